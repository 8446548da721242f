package strata_test

import (
	"fmt"
	"log"
	"os"

	"github.com/jpl-au/strata"
)

func Example() {
	dir, _ := os.MkdirTemp("", "strata-example")
	defer os.RemoveAll(dir)

	// Open or create a database directory
	db, err := strata.Open(dir, strata.Config{})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	// Write bytes at arbitrary addresses
	db.Write(14, []byte("hello, "))
	db.Write(21, []byte("world!"))
	db.Flush()

	// Overwrites layer on top; reads resolve newest-wins
	db.Write(21, []byte("strata"))

	data, _ := db.Read(strata.Range{Start: 14, End: 27})
	fmt.Println(string(data))
	// Output: hello, strata
}

func ExampleDB_Rebase() {
	dir, _ := os.MkdirTemp("", "strata-example")
	defer os.RemoveAll(dir)

	db, _ := strata.Open(dir, strata.Config{})
	defer db.Close()

	// Many generations of the same bytes pile up layers
	for i := range 10 {
		db.Write(0, []byte{byte(i)})
		db.Flush()
	}

	// Rebase fuses the stack into one layer; the visible bytes are unchanged
	if err := db.Rebase(4096); err != nil {
		log.Fatal(err)
	}

	data, _ := db.Read(strata.Range{Start: 0, End: 1})
	fmt.Println(data[0])
	// Output: 9
}

func ExampleImage() {
	f, _ := os.CreateTemp("", "strata-image")
	defer os.Remove(f.Name())
	defer f.Close()
	f.Truncate(256)

	// An Image is the flat, layer-free companion: in-place writes
	img := strata.NewImage(f)
	img.Write(12, []byte("hello, world"))

	data, _ := img.Read(strata.Range{Start: 12, End: 24})
	fmt.Println(string(data))
	// Output: hello, world
}
