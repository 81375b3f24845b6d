package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// parseDate accepts dd.mm.yyyy, dd.mm.yy (20yy), dd.mm (current year),
// yyyy-mm-dd and RFC 3339 timestamps. Only the calendar day is kept.
func parseDate(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return day(t.Year(), t.Month(), t.Day()), nil
	}
	if t, err := time.Parse("2006-01-02", text); err == nil {
		return day(t.Year(), t.Month(), t.Day()), nil
	}

	parts := strings.Split(text, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return time.Time{}, fmt.Errorf("invalid date %q", text)
	}

	d, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day in date %q", text)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month in date %q", text)
	}

	y := now.Year()
	if len(parts) == 3 {
		y, err = strconv.Atoi(parts[2])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid year in date %q", text)
		}
		if len(parts[2]) <= 2 {
			y += 2000
		}
	}

	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, fmt.Errorf("invalid date %q", text)
	}
	t := day(y, time.Month(m), d)
	if t.Day() != d {
		return time.Time{}, fmt.Errorf("invalid date %q", text)
	}
	return t, nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

// daysBetween returns to - from in whole calendar days
func daysBetween(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Hours() / 24))
}
