package clock

import "time"

// ServiceTime is an instant expressed in schedule terms for a fixed reference
// timezone: a calendar service date plus seconds elapsed since local midnight.
// The dataset records all departure times relative to its own region's clock,
// so these values are computed in the dataset timezone regardless of where the
// process runs.
type ServiceTime struct {
	// Date is the service date in YYYY-MM-DD form.
	Date string
	// SecondsSinceMidnight is local wall time as seconds after midnight, 0-86399.
	SecondsSinceMidnight int
	// WeekdayIndex is the day of week with Monday = 0 through Sunday = 6,
	// matching the calendar bitmask bit positions.
	WeekdayIndex int
}

// ServiceTimeAt converts an instant to schedule terms in the given location.
func ServiceTimeAt(t time.Time, loc *time.Location) ServiceTime {
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return ServiceTime{
		Date:                 local.Format("2006-01-02"),
		SecondsSinceMidnight: int(local.Sub(midnight) / time.Second),
		WeekdayIndex:         mondayFirstIndex(local.Weekday()),
	}
}

// PreviousDate returns the service date one calendar day earlier, with its
// weekday index. Needed for overnight trips recorded against the prior day's
// service id.
func (st ServiceTime) PreviousDate(loc *time.Location) ServiceTime {
	day, err := time.ParseInLocation("2006-01-02", st.Date, loc)
	if err != nil {
		// Date always comes from Format above; a parse failure means the
		// value was constructed by hand. Fall back to the same date.
		return st
	}
	prev := day.AddDate(0, 0, -1)
	return ServiceTime{
		Date:                 prev.Format("2006-01-02"),
		SecondsSinceMidnight: st.SecondsSinceMidnight,
		WeekdayIndex:         mondayFirstIndex(prev.Weekday()),
	}
}

// mondayFirstIndex remaps Go's Sunday-first weekday to the Monday-first
// convention used by the calendar bitmask.
func mondayFirstIndex(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}
