package policy

import (
	"time"

	"github.com/edgxcloud/chargegate/internal/config"
)

// InAnySchedule reports whether now falls inside any enabled charging
// window. Day matching uses bit 0 = Sunday on the item's days mask;
// windows with end <= start wrap past midnight.
func InAnySchedule(items []config.ScheduleItem, now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	day := int(local.Weekday()) // Sunday = 0, matching bit 0
	minutes := local.Hour()*60 + local.Minute()

	for _, item := range items {
		if item.Enabled == 0 {
			continue
		}
		if item.DaysMask&(1<<day) == 0 {
			continue
		}
		start, err := config.ParseHHMM(item.Start)
		if err != nil {
			continue
		}
		end, err := config.ParseHHMM(item.End)
		if err != nil {
			continue
		}
		if start == end {
			continue
		}
		if start < end {
			if minutes >= start && minutes < end {
				return true
			}
		} else {
			if minutes >= start || minutes < end {
				return true
			}
		}
	}
	return false
}
