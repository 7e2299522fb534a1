// Package departures implements the departure resolution and
// window-synchronization engine: remote-versus-offline source arbitration,
// offline schedule matching against the bundled dataset, and the paginated,
// deduplicated, auto-refreshing window of departures handed to the
// presentation layer.
package departures

import "fmt"

// Accessibility is the tri-state wheelchair accessibility flag, using the
// GTFS encoding.
type Accessibility int

const (
	AccessibilityUnknown Accessibility = 0
	AccessibilityYes     Accessibility = 1
	AccessibilityNo      Accessibility = 2
)

// Departure is one scheduled or realtime stop-visit. Values are immutable
// once constructed; the window manager only adds, removes and reorders
// collections of them.
type Departure struct {
	TripID         string
	RouteShortName string
	Headsign       string

	// ScheduledTimeSecs and RealtimeTimeSecs are seconds since local
	// midnight in the dataset timezone. RealtimeTimeSecs equals the
	// scheduled time when no live data exists for the trip.
	ScheduledTimeSecs int
	RealtimeTimeSecs  int

	// MinutesUntil is the precomputed display countdown, never negative.
	MinutesUntil int

	// DelaySeconds is signed; negative means running early.
	DelaySeconds int
	IsRealtime   bool

	// Platform is empty when unknown. Numeric platform codes are carried
	// as their string form.
	Platform string

	WheelchairAccessible Accessibility

	// OccupancyStatus is the optional 0-6 ordinal; nil when the feed did
	// not report one.
	OccupancyStatus *int

	// StopSequence disambiguates repeated visits of the same trip to the
	// same stop.
	StopSequence int
}

// Key is the identity of a departure occurrence. A trip may call at a stop
// more than once, so the stop sequence is part of the identity.
type Key struct {
	TripID            string
	ScheduledTimeSecs int
	StopSequence      int
}

// Key returns the departure's identity key.
func (d Departure) Key() Key {
	return Key{
		TripID:            d.TripID,
		ScheduledTimeSecs: d.ScheduledTimeSecs,
		StopSequence:      d.StopSequence,
	}
}

// MinutesUntilText renders the countdown for display: "Now" under a minute,
// otherwise "N min".
func (d Departure) MinutesUntilText() string {
	if d.MinutesUntil <= 0 {
		return "Now"
	}
	return fmt.Sprintf("%d min", d.MinutesUntil)
}

// DepartureClock renders the realtime departure time as HH:MM wall time.
// Overnight times past 24:00 wrap to the next day's clock.
func (d Departure) DepartureClock() string {
	mins := d.RealtimeTimeSecs / 60
	hours := (mins / 60) % 24
	return fmt.Sprintf("%02d:%02d", hours, mins%60)
}

// DelayText renders "+N min" for late departures and "" otherwise, matching
// the display convention of only surfacing lateness.
func (d Departure) DelayText() string {
	if d.DelaySeconds <= 0 {
		return ""
	}
	return fmt.Sprintf("+%d min", d.DelaySeconds/60)
}

// minutesUntil computes the non-negative countdown from a reference time in
// seconds since local midnight.
func minutesUntil(realtimeTimeSecs, nowSecs int) int {
	remaining := realtimeTimeSecs - nowSecs
	if remaining < 0 {
		return 0
	}
	return remaining / 60
}
