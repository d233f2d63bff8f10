// Package availability derives bookable slot start times from working hours,
// calendar blocks and existing bookings.
package availability

import (
	"time"

	"tovis/internal/apperr"
	"tovis/internal/models"
	"tovis/internal/timerange"
)

type Request struct {
	WorkingHours models.WorkingHours
	// From and To bound the slot start times: From <= start < To.
	From time.Time
	To   time.Time
	// Blocks and Busy are subtracted from the open intervals. Busy holds
	// the ranges of non-cancelled bookings.
	Blocks   []timerange.Range
	Busy     []timerange.Range
	Duration time.Duration
	Step     time.Duration
	// NotBefore drops slots starting before it (usually now). Zero keeps all.
	NotBefore time.Time
}

func (r Request) validate() error {
	if r.Duration <= 0 {
		return apperr.New(apperr.KindInvalidInput, "service duration must be positive")
	}
	if r.Step <= 0 {
		return apperr.New(apperr.KindInvalidInput, "slot step must be positive")
	}
	if !r.To.After(r.From) {
		return apperr.Newf(apperr.KindInvalidRange, "availability window end must be after start")
	}
	return nil
}

// Slots returns every start time whose [start, start+Duration) fits inside
// free time, ascending and without duplicates. A window without free time
// yields an empty result and no error.
func Slots(req Request) ([]time.Time, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	// A slot starting just before To may run into the next day's hours.
	open, err := OpenRanges(req.WorkingHours, req.From, req.To.Add(req.Duration))
	if err != nil {
		return nil, err
	}

	exclusions := make([]timerange.Range, 0, len(req.Blocks)+len(req.Busy))
	exclusions = append(exclusions, req.Blocks...)
	exclusions = append(exclusions, req.Busy...)

	slots := make([]time.Time, 0)
	for _, o := range open {
		for _, free := range timerange.Subtract(o, exclusions) {
			for t := free.Start(); !t.Add(req.Duration).After(free.End()); t = t.Add(req.Step) {
				if !t.Before(req.To) {
					break
				}
				if t.Before(req.From) || (!req.NotBefore.IsZero() && t.Before(req.NotBefore)) {
					continue
				}
				if n := len(slots); n > 0 && !t.After(slots[n-1]) {
					continue
				}
				slots = append(slots, t)
			}
		}
	}
	return slots, nil
}

// OpenRanges expands the weekly schedule into absolute, merged open ranges
// for every local day touching [from, to).
func OpenRanges(wh models.WorkingHours, from, to time.Time) ([]timerange.Range, error) {
	loc, err := wh.Location()
	if err != nil {
		return nil, err
	}

	local := from.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var ranges []timerange.Range
	for day.Before(to) {
		y, m, d := day.Date()
		for _, iv := range wh.Intervals(day.Weekday()) {
			r, err := timerange.New(iv.Start.On(y, m, d, loc), iv.End.On(y, m, d, loc))
			if err != nil {
				// interval swallowed by a DST transition
				continue
			}
			ranges = append(ranges, r)
		}
		day = time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	}
	return timerange.Merge(ranges), nil
}

// Fits reports whether r lies entirely inside open working time and
// overlaps none of the blocks.
func Fits(wh models.WorkingHours, blocks []timerange.Range, r timerange.Range) (bool, error) {
	open, err := OpenRanges(wh, r.Start(), r.End())
	if err != nil {
		return false, err
	}
	for _, o := range open {
		if o.Covers(r) {
			return !timerange.OverlapsAny(r, blocks), nil
		}
	}
	return false, nil
}
