// Package crontab implements the crontab parser and schedule evaluator
// described in spec §4.1: textual rows (including comments, malformed
// rows, variable assignments, and per-row configuration overrides) become
// structured Schedules and a runtime whitelist.
package crontab

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// field identifies one of the five schedule columns, used only to make
// parse-error messages readable (e.g. "bad Hour field").
type field int

const (
	fieldMinute field = iota
	fieldHour
	fieldDayOfMonth
	fieldMonth
	fieldDayOfWeek
)

func (f field) String() string {
	switch f {
	case fieldMinute:
		return "Minute"
	case fieldHour:
		return "Hour"
	case fieldDayOfMonth:
		return "DayOfMonth"
	case fieldMonth:
		return "Month"
	case fieldDayOfWeek:
		return "DayOfWeek"
	default:
		return "Unknown"
	}
}

func (f field) allowedRange() (min, max int) {
	switch f {
	case fieldMinute:
		return 0, 59
	case fieldHour:
		return 0, 23
	case fieldDayOfMonth:
		return 1, 31
	case fieldMonth:
		return 1, 12
	case fieldDayOfWeek:
		return 0, 7 // 7 is accepted and normalised to 0 (Sunday)
	default:
		return 0, 0
	}
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var weekdayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// textUnitToInt resolves a single range endpoint, accepting case-insensitive
// three-letter month/weekday names in addition to plain integers.
func textUnitToInt(f field, token string) (int, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, fmt.Errorf("empty value")
	}

	if n, err := strconv.Atoi(token); err == nil {
		return n, nil
	}

	lower := strings.ToLower(token)
	switch f {
	case fieldMonth:
		if n, ok := monthNames[lower]; ok {
			return n, nil
		}
	case fieldDayOfWeek:
		if n, ok := weekdayNames[lower]; ok {
			return n, nil
		}
	}

	return 0, fmt.Errorf("%q is not a valid %s value", token, f)
}

// normalizeDayOfWeek maps the accepted-but-non-canonical 7 to 0 (Sunday).
func normalizeDayOfWeek(f field, v int) int {
	if f == fieldDayOfWeek && v == 7 {
		return 0
	}
	return v
}

// parseField implements the per-field grammar from spec §4.1: comma-joined
// list of RANGE or RANGE/STEP items, RANGE is "*", a single value, or A-B.
func parseField(f field, raw string) (map[int]struct{}, error) {
	result := map[int]struct{}{}
	allowMin, allowMax := f.allowedRange()

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, fmt.Errorf("empty %s list item", f)
		}

		slashParts := strings.Split(item, "/")
		if len(slashParts) > 2 {
			return nil, fmt.Errorf("too many '/' in %s item %q", f, item)
		}

		rangeExpr := strings.TrimSpace(slashParts[0])
		step := 1
		if len(slashParts) == 2 {
			s, err := strconv.Atoi(strings.TrimSpace(slashParts[1]))
			if err != nil || s <= 0 {
				return nil, fmt.Errorf("%s step %q must be a positive integer", f, slashParts[1])
			}
			step = s
		}

		var rangeStart, rangeEnd int

		if rangeExpr == "*" {
			rangeStart, rangeEnd = allowMin, allowMax
		} else {
			hyphenParts := strings.Split(rangeExpr, "-")
			if len(hyphenParts) > 2 {
				return nil, fmt.Errorf("too many '-' in %s item %q", f, item)
			}

			start, err := textUnitToInt(f, hyphenParts[0])
			if err != nil {
				return nil, fmt.Errorf("bad %s field %q: %w", f, item, err)
			}

			end := start
			if len(hyphenParts) == 2 {
				end, err = textUnitToInt(f, hyphenParts[1])
				if err != nil {
					return nil, fmt.Errorf("bad %s field %q: %w", f, item, err)
				}
			}

			rangeStart, rangeEnd = normalizeDayOfWeek(f, start), normalizeDayOfWeek(f, end)
		}

		// Explicit day-of-week endpoints are normalised (7 -> 0) before the
		// bounds checks, so a range ending in 7 such as "6-7" becomes "6-0"
		// and is rejected as start > end. "*" keeps the full 0-7 span; its
		// members are normalised one at a time as they're inserted.
		if rangeStart < allowMin || rangeStart > allowMax || rangeEnd < allowMin || rangeEnd > allowMax {
			return nil, fmt.Errorf("%s item %q out of range [%d,%d]", f, item, allowMin, allowMax)
		}
		if rangeStart > rangeEnd {
			return nil, fmt.Errorf("%s item %q has start > end", f, item)
		}

		for v := rangeStart; v <= rangeEnd; v += step {
			result[normalizeDayOfWeek(f, v)] = struct{}{}
		}
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("%s field %q produced an empty set", f, raw)
	}

	return result, nil
}

// Schedule is five unordered sets of integers: minute, hour, day-of-month,
// month, and day-of-week. None is ever empty after a successful parse.
type Schedule struct {
	minutes     map[int]struct{}
	hours       map[int]struct{}
	daysOfMonth map[int]struct{}
	months      map[int]struct{}
	daysOfWeek  map[int]struct{}
}

// parseSchedule parses the five schedule tokens (minute, hour,
// day-of-month, month, day-of-week, in that order).
func parseSchedule(tokens [5]string) (Schedule, error) {
	minutes, err := parseField(fieldMinute, tokens[0])
	if err != nil {
		return Schedule{}, err
	}
	hours, err := parseField(fieldHour, tokens[1])
	if err != nil {
		return Schedule{}, err
	}
	daysOfMonth, err := parseField(fieldDayOfMonth, tokens[2])
	if err != nil {
		return Schedule{}, err
	}
	months, err := parseField(fieldMonth, tokens[3])
	if err != nil {
		return Schedule{}, err
	}
	daysOfWeek, err := parseField(fieldDayOfWeek, tokens[4])
	if err != nil {
		return Schedule{}, err
	}

	return Schedule{
		minutes:     minutes,
		hours:       hours,
		daysOfMonth: daysOfMonth,
		months:      months,
		daysOfWeek:  daysOfWeek,
	}, nil
}

// Contains reports whether local time t satisfies the schedule: every
// component of t is a member of its corresponding set. t.Weekday() is
// already 0 (Sunday) through 6 (Saturday) in Go, matching the
// already-normalised day-of-week set.
func (s Schedule) Contains(t time.Time) bool {
	if _, ok := s.minutes[t.Minute()]; !ok {
		return false
	}
	if _, ok := s.hours[t.Hour()]; !ok {
		return false
	}
	if _, ok := s.daysOfMonth[t.Day()]; !ok {
		return false
	}
	if _, ok := s.months[int(t.Month())]; !ok {
		return false
	}
	if _, ok := s.daysOfWeek[int(t.Weekday())]; !ok {
		return false
	}
	return true
}

// NextAfter returns the earliest whitelisted minute strictly after t, in
// t's own location. Scans forward minute-by-minute; the schedule's
// coarsest granularity is one minute so this always terminates within a
// few years (worst case: Feb 29 on a specific weekday).
func (s Schedule) NextAfter(t time.Time) time.Time {
	next := t.Truncate(time.Minute).Add(time.Minute)
	for !s.Contains(next) {
		next = next.Add(time.Minute)
	}
	return next
}
