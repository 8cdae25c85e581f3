package model

import (
	"strings"
	"time"
)

// Date is a parsed genealogical date. Obituary text ranges from exact ISO
// dates to "circa 1950", so precision is carried alongside the value.
type Date struct {
	Time     time.Time
	Circa    bool
	YearOnly bool
}

// Longer prefixes come before their own prefixes ("abt." before "abt").
var circaPrefixes = []string{"approximately", "circa", "about", "abt.", "abt", "ca.", "c.", "~"}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"January 2 2006",
	"01/02/2006",
}

// ParseDate parses a date string in the formats extraction produces.
// Returns ok=false when the string is not recognizably a date.
func ParseDate(s string) (Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, false
	}

	var d Date
	lower := strings.ToLower(s)
	for _, p := range circaPrefixes {
		if strings.HasPrefix(lower, p) {
			d.Circa = true
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return d, true
		}
	}

	// Bare year.
	if t, err := time.Parse("2006", s); err == nil {
		d.Time = t
		d.YearOnly = true
		return d, true
	}

	return Date{}, false
}

// DaysApart returns the absolute difference between two dates in days.
func DaysApart(a, b Date) int {
	diff := a.Time.Sub(b.Time)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}

// Exact reports whether the date is a precise day, not circa or year-only.
func (d Date) Exact() bool {
	return !d.Circa && !d.YearOnly
}
