package departures

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"departures.sydneytransit.org/internal/clock"
	"departures.sydneytransit.org/internal/metrics"
	"departures.sydneytransit.org/scheddb"
)

// DatasetTimezone is the fixed reference timezone of the bundled schedule
// dataset. All departure times are seconds since midnight in this zone.
const DatasetTimezone = "Australia/Sydney"

const (
	// lookAheadSecs is the static query window: departures are resolved for
	// the two hours following the as-of instant.
	lookAheadSecs = 2 * 60 * 60

	// overnightCutoffSecs marks the early-morning period during which trips
	// from the previous service date may still be running.
	overnightCutoffSecs = 3600

	secsPerDay = 86400
)

// StaticScheduleResolver answers departure queries from the bundled SQLite
// schedule, with no realtime information. It is the offline fallback behind
// the remote gateway.
type StaticScheduleResolver struct {
	db      *scheddb.Client
	clock   clock.Clock
	tz      *time.Location
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewStaticScheduleResolver builds a resolver over an opened schedule
// database. The dataset timezone must be loadable from the zone database.
func NewStaticScheduleResolver(db *scheddb.Client, clk clock.Clock, m *metrics.Metrics) (*StaticScheduleResolver, error) {
	tz, err := time.LoadLocation(DatasetTimezone)
	if err != nil {
		return nil, fmt.Errorf("loading dataset timezone: %w", err)
	}
	return &StaticScheduleResolver{
		db:      db,
		clock:   clk,
		tz:      tz,
		metrics: m,
		logger:  slog.Default().With(slog.String("component", "static_resolver")),
	}, nil
}

// Timezone returns the dataset's reference location.
func (r *StaticScheduleResolver) Timezone() *time.Location {
	return r.tz
}

// ResolveDepartures returns scheduled departures at a stop within the
// two-hour window starting at asOfSecs, seconds since local midnight. A nil
// asOfSecs resolves against the current instant. Unknown stops yield an
// empty result, not an error; dataset failures are reported as offline
// unavailability.
func (r *StaticScheduleResolver) ResolveDepartures(ctx context.Context, stopExternalID string, limit int, asOfSecs *int) ([]Departure, error) {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		if r.metrics != nil {
			r.metrics.OfflineQueryDuration.Observe(elapsed.Seconds())
			if elapsed > 100*time.Millisecond {
				r.metrics.SlowQueriesTotal.Inc()
			}
		}
	}()

	now := clock.ServiceTimeAt(r.clock.Now(), r.tz)
	asOf := now.SecondsSinceMidnight
	if asOfSecs != nil {
		asOf = *asOfSecs
	}

	stopKey, found, err := r.db.LookupStopKey(ctx, stopExternalID)
	if err != nil {
		return nil, &OfflineUnavailableError{Cause: err}
	}
	if !found {
		return nil, nil
	}

	rows, err := r.queryWindow(ctx, stopKey, now, asOf, limit)
	if err != nil {
		return nil, &OfflineUnavailableError{Cause: err}
	}

	nowSecs := now.SecondsSinceMidnight
	departures := make([]Departure, 0, len(rows))
	for _, row := range rows {
		departures = append(departures, departureFromRow(row, nowSecs))
	}

	sort.SliceStable(departures, func(i, j int) bool {
		return departures[i].ScheduledTimeSecs < departures[j].ScheduledTimeSecs
	})
	if len(departures) > limit {
		departures = departures[:limit]
	}

	return departures, nil
}

// queryWindow runs the static departure query for the current service date
// and, during the first hour after midnight, a second query against the
// previous date. Overnight trips are stored against the date they began on
// with effective times past 86400, so the prior-date window is shifted up a
// day and its results shifted back down when mapped.
func (r *StaticScheduleResolver) queryWindow(ctx context.Context, stopKey int64, now clock.ServiceTime, asOf, limit int) ([]scheddb.DepartureRow, error) {
	today := now
	if asOf != now.SecondsSinceMidnight {
		today = clock.ServiceTime{
			Date:                 now.Date,
			SecondsSinceMidnight: asOf,
			WeekdayIndex:         now.WeekdayIndex,
		}
	}

	rows, err := r.db.StaticDepartures(ctx, scheddb.StaticDeparturesParams{
		StopKey:         stopKey,
		WindowStartSecs: int64(asOf),
		WindowEndSecs:   int64(asOf + lookAheadSecs),
		ServiceDate:     today.Date,
		WeekdayIndex:    int64(today.WeekdayIndex),
		Limit:           int64(limit),
	})
	if err != nil {
		return nil, err
	}

	if asOf >= overnightCutoffSecs {
		return rows, nil
	}

	// The prior-date window opens at 24:00 flat, not at asOf shifted up a
	// day: an overnight trip that left minutes ago still belongs on the
	// board during the first hour.
	prev := today.PreviousDate(r.tz)
	overnight, err := r.db.StaticDepartures(ctx, scheddb.StaticDeparturesParams{
		StopKey:         stopKey,
		WindowStartSecs: secsPerDay,
		WindowEndSecs:   int64(asOf + secsPerDay + lookAheadSecs),
		ServiceDate:     prev.Date,
		WeekdayIndex:    int64(prev.WeekdayIndex),
		Limit:           int64(limit),
	})
	if err != nil {
		return nil, err
	}

	for i := range overnight {
		overnight[i].EffectiveSecs -= secsPerDay
	}

	return append(rows, overnight...), nil
}

// departureFromRow maps a schedule row to the engine's departure record.
// Static results carry no realtime data: the realtime fields mirror the
// schedule and the delay is zero.
func departureFromRow(row scheddb.DepartureRow, nowSecs int) Departure {
	scheduled := int(row.EffectiveSecs)

	accessibility := AccessibilityUnknown
	switch row.WheelchairAccessible {
	case 1:
		accessibility = AccessibilityYes
	case 2:
		accessibility = AccessibilityNo
	}

	platform := ""
	if row.PlatformCode.Valid {
		platform = row.PlatformCode.String
	}

	return Departure{
		TripID:               row.TripID,
		RouteShortName:       row.RouteShortName,
		Headsign:             row.Headsign,
		ScheduledTimeSecs:    scheduled,
		RealtimeTimeSecs:     scheduled,
		MinutesUntil:         minutesUntil(scheduled, nowSecs),
		DelaySeconds:         0,
		IsRealtime:           false,
		Platform:             platform,
		WheelchairAccessible: accessibility,
		StopSequence:         int(row.StopSequence),
	}
}

// IsServiceActive reports whether a calendar service runs on the given
// YYYY-MM-DD date.
func (r *StaticScheduleResolver) IsServiceActive(ctx context.Context, serviceID, date string) (bool, error) {
	return r.db.IsServiceActive(ctx, serviceID, date)
}
