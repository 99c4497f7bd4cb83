package period

import (
	"fmt"
	"strings"
	"time"
)

// Period scopes a report to one calendar month.
type Period struct {
	Month int `json:"month" validate:"required,min=1,max=12"`
	Year  int `json:"year" validate:"required,min=2000,max=2100"`
}

// New builds a validated Period.
func New(month, year int) (Period, error) {
	p := Period{Month: month, Year: year}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate checks month and year bounds.
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("month must be between 1 and 12, got %d", p.Month)
	}
	if p.Year < 2000 || p.Year > 2100 {
		return fmt.Errorf("year must be between 2000 and 2100, got %d", p.Year)
	}
	return nil
}

// Bounds returns the first and last instant of the month in loc.
func (p Period) Bounds(loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	start := time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return start, end
}

// Contains reports whether t falls in the period's calendar month, evaluated in loc.
func (p Period) Contains(t time.Time, loc *time.Location) bool {
	if loc != nil {
		t = t.In(loc)
	}
	return int(t.Month()) == p.Month && t.Year() == p.Year
}

// Key is a stable identifier used in cache keys and file names.
func (p Period) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

func (p Period) String() string {
	return fmt.Sprintf("%s %d", time.Month(p.Month).String(), p.Year)
}

// DateRange is an inclusive span of days. End is pinned to 23:59:59.999 of its day.
type DateRange struct {
	Start time.Time `json:"startDate"`
	End   time.Time `json:"endDate"`
}

// NewDateRange normalises start to midnight and end to the last millisecond of its day.
func NewDateRange(start, end time.Time) (DateRange, error) {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	e := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, int(999*time.Millisecond), end.Location())
	if e.Before(s) {
		return DateRange{}, fmt.Errorf("endDate %s is before startDate %s", end.Format(DateLayout), start.Format(DateLayout))
	}
	return DateRange{Start: s, End: e}, nil
}

// ParseDateRange parses two YYYY-MM-DD strings in loc.
func ParseDateRange(start, end string, loc *time.Location) (DateRange, error) {
	s, err := ParseDate(start, loc)
	if err != nil {
		return DateRange{}, fmt.Errorf("startDate: %w", err)
	}
	e, err := ParseDate(end, loc)
	if err != nil {
		return DateRange{}, fmt.Errorf("endDate: %w", err)
	}
	return NewDateRange(s, e)
}

// Contains reports whether t lies within the inclusive range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Key is a stable identifier used in cache keys and file names.
func (r DateRange) Key() string {
	return r.Start.Format(DateLayout) + "_" + r.End.Format(DateLayout)
}

// DateLayout is the wire format for date-only query parameters.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD value in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	return t, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	DateLayout,
}

// ParseTimestamp accepts the timestamp shapes emitted by the record store and returns the
// instant expressed in loc. Values without a zone are interpreted in loc.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}
