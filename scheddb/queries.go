package scheddb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"departures.sydneytransit.org/internal/logging"
)

// Stop is one row of the stops table, keyed by the dataset's compact
// integer stop key.
type Stop struct {
	Sid                int64
	StopCode           sql.NullString
	StopName           string
	StopLat            float64
	StopLon            float64
	WheelchairBoarding sql.NullInt64
	PlatformCode       sql.NullString
}

// DepartureRow is one scheduled stop-visit produced by the pattern-model
// departure query. EffectiveSecs is the trip's start offset plus the stop's
// offset from the pattern start, in seconds since local midnight; it exceeds
// 86400 for overnight trips recorded against the prior service date.
type DepartureRow struct {
	TripID               string
	RouteShortName       string
	Headsign             string
	EffectiveSecs        int64
	StopSequence         int64
	WheelchairAccessible int64
	ServiceID            string
	PlatformCode         sql.NullString
}

// LookupStopKey maps an external GTFS stop id to the dataset's internal
// integer key. A missing mapping returns found=false, not an error.
func (c *Client) LookupStopKey(ctx context.Context, stopExternalID string) (int64, bool, error) {
	var sid int64
	err := c.DB.QueryRowContext(ctx,
		"SELECT sid FROM dict_stop WHERE stop_id = ?", stopExternalID,
	).Scan(&sid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stop key lookup for %q: %w", stopExternalID, err)
	}
	return sid, true, nil
}

// LookupStopExternalID is the reverse dictionary lookup, internal key to
// GTFS stop id.
func (c *Client) LookupStopExternalID(ctx context.Context, sid int64) (string, bool, error) {
	var stopID string
	err := c.DB.QueryRowContext(ctx,
		"SELECT stop_id FROM dict_stop WHERE sid = ?", sid,
	).Scan(&stopID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("stop id lookup for key %d: %w", sid, err)
	}
	return stopID, true, nil
}

// GetStop fetches a stop row by internal key.
func (c *Client) GetStop(ctx context.Context, sid int64) (Stop, error) {
	var s Stop
	err := c.DB.QueryRowContext(ctx, `
		SELECT sid, stop_code, stop_name, stop_lat, stop_lon, wheelchair_boarding, platform_code
		FROM stops WHERE sid = ?`, sid,
	).Scan(&s.Sid, &s.StopCode, &s.StopName, &s.StopLat, &s.StopLon, &s.WheelchairBoarding, &s.PlatformCode)
	if err != nil {
		return Stop{}, fmt.Errorf("stop lookup for key %d: %w", sid, err)
	}
	return s, nil
}

// StaticDeparturesParams parameterizes the pattern-model departure query.
// The window is half-open: WindowStartSecs <= effective < WindowEndSecs.
type StaticDeparturesParams struct {
	StopKey         int64
	WindowStartSecs int64
	WindowEndSecs   int64
	ServiceDate     string // YYYY-MM-DD, tested against the calendar range
	WeekdayIndex    int64  // Monday = 0 .. Sunday = 6
	Limit           int64
}

// StaticDepartures returns scheduled stop-visits at a stop whose parent
// calendar is active on the given service date and whose effective departure
// time falls inside the window, ordered ascending by effective time.
func (c *Client) StaticDepartures(ctx context.Context, params StaticDeparturesParams) ([]DepartureRow, error) {
	logger := slog.Default().With(slog.String("component", "scheddb"))
	start := time.Now()
	defer observeQuery(logger, "static_departures", start)

	// Datasets generated before trip start times were backfilled lack the
	// start_time_secs column; the effective time then degrades to the
	// per-stop pattern offset alone.
	startExpr := "t.start_time_secs"
	if !c.Capabilities(ctx).HasTripStartTimes {
		startExpr = "0"
	}

	query := fmt.Sprintf(`
		SELECT
			t.trip_id,
			COALESCE(r.route_short_name, ''),
			COALESCE(t.trip_headsign, ''),
			(%[1]s + ps.departure_offset_secs) AS effective_secs,
			ps.stop_sequence,
			COALESCE(t.wheelchair_accessible, 0),
			t.service_id,
			s.platform_code
		FROM pattern_stops ps
		JOIN patterns p ON ps.pid = p.pid
		JOIN trips t ON t.pid = p.pid
		JOIN routes r ON t.rid = r.rid
		JOIN stops s ON ps.sid = s.sid
		JOIN calendar c ON t.service_id = c.service_id
		WHERE ps.sid = ?
		  AND c.start_date <= ?
		  AND c.end_date >= ?
		  AND (c.days >> ?) & 1 = 1
		  AND (%[1]s + ps.departure_offset_secs) >= ?
		  AND (%[1]s + ps.departure_offset_secs) < ?
		ORDER BY effective_secs ASC
		LIMIT ?`, startExpr)

	rows, err := c.DB.QueryContext(ctx, query,
		params.StopKey,
		params.ServiceDate,
		params.ServiceDate,
		params.WeekdayIndex,
		params.WindowStartSecs,
		params.WindowEndSecs,
		params.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("static departures query: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows, logger, "static_departures_rows")

	var results []DepartureRow
	for rows.Next() {
		var row DepartureRow
		if err := rows.Scan(
			&row.TripID,
			&row.RouteShortName,
			&row.Headsign,
			&row.EffectiveSecs,
			&row.StopSequence,
			&row.WheelchairAccessible,
			&row.ServiceID,
			&row.PlatformCode,
		); err != nil {
			return nil, fmt.Errorf("static departures scan: %w", err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("static departures rows: %w", err)
	}

	return results, nil
}

// SearchStops matches stop names against the dataset's FTS index using a
// sanitized prefix query. FTS operators in user input are stripped rather
// than honored. Requires the driver's sqlite_fts5 build tag.
func (c *Client) SearchStops(ctx context.Context, query string, limit int64) ([]Stop, error) {
	sanitized := strings.NewReplacer(`"`, "", "*", "").Replace(query)
	for _, op := range []string{" OR ", " AND ", " or ", " and "} {
		sanitized = strings.ReplaceAll(sanitized, op, " ")
	}
	sanitized = strings.TrimSpace(sanitized)
	if sanitized == "" {
		return nil, nil
	}

	logger := slog.Default().With(slog.String("component", "scheddb"))
	start := time.Now()
	defer observeQuery(logger, "search_stops", start)

	rows, err := c.DB.QueryContext(ctx, `
		SELECT s.sid, s.stop_code, s.stop_name, s.stop_lat, s.stop_lon, s.wheelchair_boarding, s.platform_code
		FROM stops s
		JOIN stops_fts fts ON s.sid = fts.sid
		WHERE stops_fts MATCH ?
		LIMIT ?`, sanitized+"*", limit)
	if err != nil {
		return nil, fmt.Errorf("stop search query: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows, logger, "search_stops_rows")

	var results []Stop
	for rows.Next() {
		var s Stop
		if err := rows.Scan(&s.Sid, &s.StopCode, &s.StopName, &s.StopLat, &s.StopLon, &s.WheelchairBoarding, &s.PlatformCode); err != nil {
			return nil, fmt.Errorf("stop search scan: %w", err)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stop search rows: %w", err)
	}

	return results, nil
}
