package scheddb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CalendarService is one row of the service calendar: a weekly active-day
// bitmask plus an inclusive validity range. Dates are string-comparable
// YYYY-MM-DD values; bit 0 of Days is Monday through bit 6 Sunday.
type CalendarService struct {
	ServiceID string
	Days      int64
	StartDate string
	EndDate   string
}

// ActiveOn reports whether the service runs on the given date.
func (s CalendarService) ActiveOn(date string, weekdayIndex int) bool {
	if date < s.StartDate || date > s.EndDate {
		return false
	}
	if weekdayIndex < 0 || weekdayIndex > 6 {
		return false
	}
	return s.Days>>uint(weekdayIndex)&1 == 1
}

// GetCalendarService fetches a single service calendar row.
func (c *Client) GetCalendarService(ctx context.Context, serviceID string) (CalendarService, error) {
	var svc CalendarService
	err := c.DB.QueryRowContext(ctx,
		"SELECT service_id, days, start_date, end_date FROM calendar WHERE service_id = ?",
		serviceID,
	).Scan(&svc.ServiceID, &svc.Days, &svc.StartDate, &svc.EndDate)
	if err != nil {
		return CalendarService{}, fmt.Errorf("calendar lookup for %q: %w", serviceID, err)
	}
	return svc, nil
}

// IsServiceActive reports whether the named service runs on the given
// YYYY-MM-DD date. An unknown service id is not an error; it is simply
// inactive.
func (c *Client) IsServiceActive(ctx context.Context, serviceID, date string) (bool, error) {
	svc, err := c.GetCalendarService(ctx, serviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	weekday, err := weekdayIndexOf(date)
	if err != nil {
		return false, err
	}

	return svc.ActiveOn(date, weekday), nil
}

// weekdayIndexOf returns the Monday-first weekday index of a YYYY-MM-DD date.
// A calendar date's weekday does not depend on timezone.
func weekdayIndexOf(date string) (int, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, fmt.Errorf("invalid service date %q: %w", date, err)
	}
	return (int(day.Weekday()) + 6) % 7, nil
}
