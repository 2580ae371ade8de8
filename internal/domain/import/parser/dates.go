package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var isoLayouts = []string{
	time.DateOnly,
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateTime,
	"2006/1/2",
	"2006.1.2",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2-Jan-2006",
	"2-Jan-06",
	"Mon, 2 Jan 2006",
}

var dayFirstLayouts = []string{
	"2/1/2006", "2-1-2006", "2.1.2006", "2/1/06", "2.1.06",
	"2/1/2006 15:04", "2/1/2006 15:04:05", "2-1-2006 15:04:05",
}

var monthFirstLayouts = []string{
	"1/2/2006", "1-2-2006", "1/2/06",
	"1/2/2006 15:04", "1/2/2006 15:04:05", "1/2/2006 3:04 PM",
}

var patternTokens = strings.NewReplacer(
	"YYYY", "2006", "YY", "06",
	"MMMM", "January", "MMM", "Jan", "MM", "01",
	"DD", "02", "HH", "15", "mm", "04", "ss", "05",
)

// LayoutFromPattern converts a user pattern like "DD/MM/YYYY" to a Go layout.
// Strings that are already Go layouts pass through unchanged.
func LayoutFromPattern(pattern string) string {
	return patternTokens.Replace(pattern)
}

// ParseDate parses a statement date to midnight in loc. An explicit layout is
// tried first, then ISO-like layouts, then the slash/dash layouts in day-first
// or month-first order, then spreadsheet serial numbers.
func ParseDate(s, layout string, dayFirst bool, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if loc == nil {
		loc = time.UTC
	}

	if layout != "" {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return truncateDay(t, loc), nil
		}
	}

	if isDigits(s) && len(s) == 8 {
		if t, err := time.ParseInLocation("20060102", s, loc); err == nil {
			return truncateDay(t, loc), nil
		}
	}

	layouts := append([]string(nil), isoLayouts...)
	if dayFirst {
		layouts = append(layouts, dayFirstLayouts...)
		layouts = append(layouts, monthFirstLayouts...)
	} else {
		layouts = append(layouts, monthFirstLayouts...)
		layouts = append(layouts, dayFirstLayouts...)
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, loc); err == nil {
			return truncateDay(t, loc), nil
		}
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 && serial < 100000 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return truncateDay(t, loc), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized date format: %s", s)
}

// DetectDayFirst reports whether slash/dash dates in the samples are
// day-first. A first component above 12 proves day-first, a second component
// above 12 proves month-first; without proof day-first is assumed.
func DetectDayFirst(samples []string) bool {
	for _, s := range samples {
		parts := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool {
			return r == '/' || r == '-' || r == '.' || r == ' '
		})
		if len(parts) < 3 || len(parts[0]) == 4 {
			continue
		}
		first, err1 := strconv.Atoi(parts[0])
		second, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			continue
		}
		if first > 12 && first <= 31 {
			return true
		}
		if second > 12 && second <= 31 {
			return false
		}
	}
	return true
}

func truncateDay(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
