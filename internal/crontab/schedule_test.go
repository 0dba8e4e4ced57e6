package crontab

import (
	"testing"
	"time"
)

func TestParseField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		field   field
		raw     string
		want    []int
		wantErr bool
	}{
		{name: "star minute", field: fieldMinute, raw: "*", want: seq(0, 59)},
		{name: "every other minute", field: fieldMinute, raw: "*/2", want: seq(0, 58, 2)},
		{name: "single value range with step collapses to one", field: fieldMinute, raw: "1-7/7", want: []int{1}},
		{name: "comma list", field: fieldHour, raw: "1,3,5", want: []int{1, 3, 5}},
		{name: "month name range", field: fieldMonth, raw: "jan-mar", want: []int{1, 2, 3}},
		{name: "weekday name", field: fieldDayOfWeek, raw: "Mon", want: []int{1}},
		{name: "weekday 7 normalises to 0", field: fieldDayOfWeek, raw: "7", want: []int{0}},
		{name: "weekday range ending in 7 normalises to 6-0 and is rejected", field: fieldDayOfWeek, raw: "6-7", wantErr: true},
		{name: "out of range rejected", field: fieldHour, raw: "24", wantErr: true},
		{name: "start greater than end rejected", field: fieldMinute, raw: "5-1", wantErr: true},
		{name: "zero step rejected", field: fieldMinute, raw: "*/0", wantErr: true},
		{name: "too many slashes rejected", field: fieldMinute, raw: "1/2/3", wantErr: true},
		{name: "too many hyphens rejected", field: fieldMinute, raw: "1-2-3", wantErr: true},
		{name: "empty item rejected", field: fieldMinute, raw: "1,,2", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseField(tt.field, tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseField(%v, %q) = %v, want error", tt.field, tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseField(%v, %q) unexpected error: %v", tt.field, tt.raw, err)
			}

			for _, v := range tt.want {
				if _, ok := got[v]; !ok {
					t.Errorf("parseField(%v, %q) missing %d in %v", tt.field, tt.raw, v, got)
				}
			}
			if len(got) != len(tt.want) {
				t.Errorf("parseField(%v, %q) = %v, want exactly %v", tt.field, tt.raw, got, tt.want)
			}
		})
	}
}

func TestScheduleContains(t *testing.T) {
	t.Parallel()

	schedule, err := parseSchedule([5]string{"*/2", "*", "*", "*", "*"})
	if err != nil {
		t.Fatalf("parseSchedule: %v", err)
	}

	minute10 := time.Date(2026, 1, 6, 9, 10, 0, 0, time.UTC) // Tuesday
	minute11 := time.Date(2026, 1, 6, 9, 11, 0, 0, time.UTC)

	if !schedule.Contains(minute10) {
		t.Errorf("expected minute 10 to be in schedule */2")
	}
	if schedule.Contains(minute11) {
		t.Errorf("expected minute 11 not to be in schedule */2")
	}
}

func TestScheduleNextAfter(t *testing.T) {
	t.Parallel()

	schedule, err := parseSchedule([5]string{"*/2", "*", "*", "*", "*"})
	if err != nil {
		t.Fatalf("parseSchedule: %v", err)
	}

	from := time.Date(2026, 1, 6, 9, 10, 0, 0, time.UTC)
	next := schedule.NextAfter(from)

	want := time.Date(2026, 1, 6, 9, 12, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextAfter(%v) = %v, want %v", from, next, want)
	}
}

func seq(start, end int, step ...int) []int {
	s := 1
	if len(step) > 0 {
		s = step[0]
	}
	var out []int
	for v := start; v <= end; v += s {
		out = append(out, v)
	}
	return out
}
