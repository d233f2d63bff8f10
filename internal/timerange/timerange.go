// Package timerange implements half-open [start, end) interval arithmetic.
package timerange

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"tovis/internal/apperr"
)

// Range is an immutable half-open interval [Start, End). The zero value is
// an empty range and is never returned by New.
type Range struct {
	start time.Time
	end   time.Time
}

func New(start, end time.Time) (Range, error) {
	if !end.After(start) {
		return Range{}, apperr.Newf(apperr.KindInvalidRange,
			"range end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Range{start: start, end: end}, nil
}

// MustNew panics on an invalid range. Intended for tests and constants.
func MustNew(start, end time.Time) Range {
	r, err := New(start, end)
	if err != nil {
		panic(err)
	}
	return r
}

// FromDuration builds [start, start+d).
func FromDuration(start time.Time, d time.Duration) (Range, error) {
	return New(start, start.Add(d))
}

func (r Range) Start() time.Time        { return r.start }
func (r Range) End() time.Time          { return r.end }
func (r Range) Duration() time.Duration { return r.end.Sub(r.start) }
func (r Range) IsZero() bool            { return r.start.IsZero() && r.end.IsZero() }

// Overlaps reports whether r and o share at least one instant. Touching
// ranges ([9,10) and [10,11)) do not overlap.
func (r Range) Overlaps(o Range) bool {
	return r.start.Before(o.end) && o.start.Before(r.end)
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.start) && t.Before(r.end)
}

// Covers reports whether o lies entirely inside r.
func (r Range) Covers(o Range) bool {
	return !o.start.Before(r.start) && !o.end.After(r.end)
}

func (r Range) Intersect(o Range) (Range, bool) {
	if !r.Overlaps(o) {
		return Range{}, false
	}
	start, end := r.start, r.end
	if o.start.After(start) {
		start = o.start
	}
	if o.end.Before(end) {
		end = o.end
	}
	return Range{start: start, end: end}, true
}

func (r Range) In(loc *time.Location) Range {
	return Range{start: r.start.In(loc), end: r.end.In(loc)}
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.start.Format(time.RFC3339), r.end.Format(time.RFC3339))
}

func Overlaps(a, b Range) bool { return a.Overlaps(b) }

func Contains(r Range, t time.Time) bool { return r.Contains(t) }

// OverlapsAny reports whether r overlaps any of others.
func OverlapsAny(r Range, others []Range) bool {
	for _, o := range others {
		if r.Overlaps(o) {
			return true
		}
	}
	return false
}

// Merge sorts ranges and coalesces overlapping or adjacent ones.
func Merge(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if !r.IsZero() {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].start.Equal(sorted[j].start) {
			return sorted[i].end.Before(sorted[j].end)
		}
		return sorted[i].start.Before(sorted[j].start)
	})

	out := make([]Range, 0, len(sorted))
	for _, r := range sorted {
		if n := len(out); n > 0 && !r.start.After(out[n-1].end) {
			if r.end.After(out[n-1].end) {
				out[n-1].end = r.end
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// Union is Merge over its arguments.
func Union(ranges ...Range) []Range { return Merge(ranges) }

// Subtract removes every exclusion from base and returns the remaining
// sub-ranges in ascending order.
func Subtract(base Range, exclusions []Range) []Range {
	if base.IsZero() {
		return nil
	}
	cursor := base.start
	var out []Range
	for _, ex := range Merge(exclusions) {
		if !ex.end.After(cursor) {
			continue
		}
		if !ex.start.Before(base.end) {
			break
		}
		if ex.start.After(cursor) {
			out = append(out, Range{start: cursor, end: ex.start})
		}
		cursor = ex.end
		if !cursor.Before(base.end) {
			return out
		}
	}
	if cursor.Before(base.end) {
		out = append(out, Range{start: cursor, end: base.end})
	}
	return out
}

type rangeJSON struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal(rangeJSON{Start: r.start, End: r.end})
}

func (r *Range) UnmarshalJSON(data []byte) error {
	var raw rangeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return apperr.Wrap(apperr.KindInvalidRange, "malformed time range", err)
	}
	parsed, err := New(raw.Start, raw.End)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
