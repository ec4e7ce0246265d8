package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule is a five-field cron expression: minute hour day month weekday.
// Each field accepts *, a number, a range (1-5) or a list (1,3,5).
// Used to restrict when the upload synchronizer may transfer chunks.
type CronSchedule struct {
	Minute  map[int]bool
	Hour    map[int]bool
	Day     map[int]bool
	Month   map[int]bool
	Weekday map[int]bool
}

var cronFields = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// ParseCronSchedule parses e.g. "* 0-6 * * *" (every minute between 00:00 and 06:59).
func ParseCronSchedule(schedule string) (*CronSchedule, error) {
	parts := strings.Fields(schedule)
	if len(parts) != len(cronFields) {
		return nil, fmt.Errorf("invalid cron schedule format, expected 5 fields, got %d", len(parts))
	}

	var sets [5]map[int]bool
	for i, f := range cronFields {
		set, err := parseCronField(parts[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %v", f.name, err)
		}
		sets[i] = set
	}
	return &CronSchedule{
		Minute:  sets[0],
		Hour:    sets[1],
		Day:     sets[2],
		Month:   sets[3],
		Weekday: sets[4],
	}, nil
}

func parseCronField(field string, min, max int) (map[int]bool, error) {
	set := make(map[int]bool)
	if field == "*" {
		for i := min; i <= max; i++ {
			set[i] = true
		}
		return set, nil
	}

	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		lo, hi := part, part
		if idx := strings.Index(part, "-"); idx >= 0 {
			lo, hi = part[:idx], part[idx+1:]
		}
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, err
		}
		end, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, err
		}
		if start < min || end > max || start > end {
			return nil, fmt.Errorf("range %d-%d out of bounds [%d-%d]", start, end, min, max)
		}
		for i := start; i <= end; i++ {
			set[i] = true
		}
	}
	return set, nil
}

// ShouldRun reports whether t falls inside the schedule.
func (cs *CronSchedule) ShouldRun(t time.Time) bool {
	return cs.Minute[t.Minute()] &&
		cs.Hour[t.Hour()] &&
		cs.Day[t.Day()] &&
		cs.Month[int(t.Month())] &&
		cs.Weekday[int(t.Weekday())]
}
