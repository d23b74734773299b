package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DailySchedule is a wall-clock time of day.
type DailySchedule struct {
	Hour   int
	Minute int
}

// ParseDailySchedule reads the minute and hour fields of a cron expression
// such as "30 2 * * *". The day, month and weekday fields must be "*".
func ParseDailySchedule(expr string) (DailySchedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return DailySchedule{}, fmt.Errorf("%w: %q: want 5 fields", ErrInvalidSchedule, expr)
	}
	for _, p := range parts[2:] {
		if p != "*" {
			return DailySchedule{}, fmt.Errorf("%w: %q: only daily schedules are supported", ErrInvalidSchedule, expr)
		}
	}

	minute, err := strconv.Atoi(parts[0])
	if err != nil || minute < 0 || minute > 59 {
		return DailySchedule{}, fmt.Errorf("%w: %q: minute must be 0-59", ErrInvalidSchedule, expr)
	}
	hour, err := strconv.Atoi(parts[1])
	if err != nil || hour < 0 || hour > 23 {
		return DailySchedule{}, fmt.Errorf("%w: %q: hour must be 0-23", ErrInvalidSchedule, expr)
	}
	return DailySchedule{Hour: hour, Minute: minute}, nil
}

// Due reports whether t falls at or after the scheduled time on its day.
func (d DailySchedule) Due(t time.Time) bool {
	return t.Hour()*60+t.Minute() >= d.Hour*60+d.Minute
}

func (d DailySchedule) String() string {
	return fmt.Sprintf("%02d:%02d", d.Hour, d.Minute)
}
