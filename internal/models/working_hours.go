package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"tovis/internal/apperr"
)

// ClockTime is a wall-clock time of day in minutes since local midnight.
// 24:00 is allowed as an interval end.
type ClockTime int

const endOfDay ClockTime = 24 * 60

func ParseClockTime(s string) (ClockTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, apperr.Newf(apperr.KindInvalidInput, "invalid time of day %q, expected HH:MM", s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, apperr.Newf(apperr.KindInvalidInput, "time of day %q out of range", s)
	}
	return ClockTime(h*60 + m), nil
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c ClockTime) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// On returns the instant of c on the given local date. Go normalizes wall
// times that fall into a DST gap.
func (c ClockTime) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, c.Hour(), c.Minute(), 0, 0, loc)
}

// DayInterval is an open interval within one local day.
type DayInterval struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

// WeeklySchedule maps weekday to its open intervals. JSON keys are lowercase
// weekday names.
type WeeklySchedule map[time.Weekday][]DayInterval

func ParseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) || strings.EqualFold(d.String()[:3], s) {
			return d, nil
		}
	}
	return 0, apperr.Newf(apperr.KindInvalidInput, "unknown weekday %q", s)
}

func (w WeeklySchedule) MarshalJSON() ([]byte, error) {
	out := make(map[string][]DayInterval, len(w))
	for d, intervals := range w {
		out[strings.ToLower(d.String())] = intervals
	}
	return json.Marshal(out)
}

func (w *WeeklySchedule) UnmarshalJSON(data []byte) error {
	var raw map[string][]DayInterval
	if err := json.Unmarshal(data, &raw); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, "malformed weekly schedule", err)
	}
	out := make(WeeklySchedule, len(raw))
	for name, intervals := range raw {
		d, err := ParseWeekday(name)
		if err != nil {
			return err
		}
		out[d] = append(out[d], intervals...)
	}
	*w = out
	return nil
}

type WorkingHours struct {
	ProfessionalID int64          `json:"professional_id"`
	Timezone       string         `json:"timezone"`
	Days           WeeklySchedule `json:"days"`
}

func (w WorkingHours) Location() (*time.Location, error) {
	if w.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, fmt.Sprintf("unknown timezone %q", w.Timezone), err)
	}
	return loc, nil
}

// Intervals returns the intervals of a weekday ordered by start.
func (w WorkingHours) Intervals(d time.Weekday) []DayInterval {
	src := w.Days[d]
	out := make([]DayInterval, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func (w WorkingHours) Validate() error {
	if _, err := w.Location(); err != nil {
		return err
	}
	for d := range w.Days {
		if d < time.Sunday || d > time.Saturday {
			return apperr.Newf(apperr.KindInvalidInput, "invalid weekday %d", d)
		}
		intervals := w.Intervals(d)
		for i, iv := range intervals {
			if iv.Start < 0 || iv.End > endOfDay || iv.End <= iv.Start {
				return apperr.Newf(apperr.KindInvalidRange, "%s: interval %s-%s is empty or out of day", d, iv.Start, iv.End)
			}
			if i > 0 && iv.Start < intervals[i-1].End {
				return apperr.Newf(apperr.KindInvalidRange, "%s: interval %s-%s overlaps %s-%s",
					d, iv.Start, iv.End, intervals[i-1].Start, intervals[i-1].End)
			}
		}
	}
	return nil
}
