// Range algebra over the 64-bit address space.
//
// A Range is a half-open interval [Start, End). Two ranges collide when
// their intersection is non-empty. The two pure operations here —
// collisions and complement — underpin every query in the engine: a
// write is split into the parts that collide with existing segments and
// the gaps between them, and a read walks the stack peeling covered
// sub-ranges off a "missing" list.
package strata

// Range is a half-open interval [Start, End) of byte addresses.
// The zero Range is empty.
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of addresses in the range.
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether the range contains no addresses.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// Collides reports whether r and o share at least one address.
func (r Range) Collides(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// Contains reports whether o lies entirely within r.
func (r Range) Contains(o Range) bool {
	return r.Start <= o.Start && o.End <= r.End
}

// clip returns the intersection of q and s. Only meaningful when the
// two collide; callers check first.
func clip(q, s Range) Range {
	return Range{Start: max(q.Start, s.Start), End: min(q.End, s.End)}
}

// union returns the minimum enclosing range of r and o.
func union(r, o Range) Range {
	return Range{Start: min(r.Start, o.Start), End: max(r.End, o.End)}
}

// collisions returns the clipped intersections of q with every range in
// set that collides with it. set must be ascending and non-colliding;
// the output then is too. Ranges entirely before q are skipped and the
// scan stops at the first range entirely past q.
func collisions(q Range, set []Range) []Range {
	var out []Range
	for _, s := range set {
		if s.End <= q.Start {
			continue
		}
		if s.Start >= q.End {
			break
		}
		out = append(out, clip(q, s))
	}
	return out
}

// complement returns the maximal sub-ranges of q disjoint from every
// range in cols. cols must be ascending, non-colliding and contained in
// q — the shape collisions produces. Empty gaps are dropped.
func complement(q Range, cols []Range) []Range {
	var out []Range
	cursor := q.Start
	for _, c := range cols {
		if cursor < c.Start {
			out = append(out, Range{Start: cursor, End: c.Start})
		}
		cursor = c.End
	}
	if cursor < q.End {
		out = append(out, Range{Start: cursor, End: q.End})
	}
	return out
}
