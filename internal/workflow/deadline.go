package workflow

import "time"

// reviewWindowDays is the fixed review window applied to every task step.
const reviewWindowDays = 3

// DueDate computes a business-day due date. It advances one calendar day at
// a time from start, counting only weekdays, and returns midnight of the
// final counted day in start's location. The result is strictly later than
// start for any businessDays >= 1.
func DueDate(start time.Time, businessDays int) time.Time {
	current := start
	counted := 0
	for counted < businessDays {
		current = current.AddDate(0, 0, 1)
		if wd := current.Weekday(); wd != time.Saturday && wd != time.Sunday {
			counted++
		}
	}
	return time.Date(current.Year(), current.Month(), current.Day(), 0, 0, 0, 0, start.Location())
}
