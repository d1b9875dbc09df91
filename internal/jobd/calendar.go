package jobd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gorhill/cronexpr"
)

// CalendarSchedule is calendar-based schedule evaluation treated as a
// black box that yields a next fire time. The manager only ever calls
// Next; it does not know or care how a schedule is represented internally.
type CalendarSchedule interface {
	// Next returns the first fire time strictly after t.
	Next(t time.Time) time.Time
}

// cronSchedule implements CalendarSchedule by compiling a
// CalendarInterval into a five-field cron expression and delegating to
// github.com/gorhill/cronexpr, the one cron/calendar library present in
// the retrieved pack (_examples/Xuanwo-nomad-driver-systemd-nspawn).
type cronSchedule struct {
	expr *cronexpr.Expression
}

// NewCalendarSchedule compiles ci into a CalendarSchedule. A nil field in
// ci means "every value of that unit," i.e. "*".
func NewCalendarSchedule(ci *CalendarInterval) (CalendarSchedule, error) {
	line := fmt.Sprintf(
		"%s %s %s %s %s",
		field(ci.Minute, 0, 59),
		field(ci.Hour, 0, 23),
		field(ci.Day, 1, 31),
		field(ci.Month, 1, 12),
		field(ci.Weekday, 0, 6),
	)

	expr, err := cronexpr.Parse(line)
	if err != nil {
		return nil, newError(KindParseError, "calendar", "", err)
	}
	return &cronSchedule{expr: expr}, nil
}

func (c *cronSchedule) Next(t time.Time) time.Time {
	return c.expr.Next(t)
}

// field renders a single launchd calendar field as a cron field: "*" when
// unset, else the integer clamped into [lo, hi].
func field(v *int, lo, hi int) string {
	if v == nil {
		return "*"
	}
	n := *v
	if n < lo {
		n = lo
	}
	if n > hi {
		n = hi
	}
	return strconv.Itoa(n)
}
