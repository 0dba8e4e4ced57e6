package conf

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeInterval models the alert.downtime config value: a daily wall-clock
// window "HH:mm+H" — a start time plus a positive whole-hour duration, in
// whatever timezone the caller evaluates it against. Membership is
// inclusive at both ends and wraps past midnight.
type TimeInterval struct {
	startMinuteOfDay int
	hours            int
}

// ParseTimeInterval parses the "HH:mm+H" downtime format from spec §6.
func ParseTimeInterval(raw string) (TimeInterval, error) {
	plusIdx := strings.IndexByte(raw, '+')
	if plusIdx < 0 {
		return TimeInterval{}, fmt.Errorf("downtime spec %q missing '+'", raw)
	}

	startPart := raw[:plusIdx]
	hoursPart := raw[plusIdx+1:]

	start, err := time.Parse("15:04", startPart)
	if err != nil {
		return TimeInterval{}, fmt.Errorf("downtime spec %q has bad start time: %w", raw, err)
	}

	hours, err := strconv.Atoi(strings.TrimSpace(hoursPart))
	if err != nil || hours <= 0 {
		return TimeInterval{}, fmt.Errorf("downtime spec %q has non-positive hour count", raw)
	}

	return TimeInterval{
		startMinuteOfDay: start.Hour()*60 + start.Minute(),
		hours:            hours,
	}, nil
}

// Contains reports whether t's local wall-clock time (in t's own
// location) falls within the window, inclusive at both ends, wrapping
// past midnight if the window extends past 24:00.
func (ti TimeInterval) Contains(t time.Time) bool {
	sod := t.Hour()*60 + t.Minute()
	start := ti.startMinuteOfDay
	end := start + ti.hours*60

	if end <= 24*60 {
		return sod >= start && sod <= end
	}

	wrappedEnd := end - 24*60
	return sod >= start || sod <= wrappedEnd
}
