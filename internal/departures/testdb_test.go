package departures

import (
	"testing"

	"github.com/stretchr/testify/require"

	"departures.sydneytransit.org/internal/appconf"
	"departures.sydneytransit.org/scheddb"
)

// newScheduleFixture opens an in-memory schedule database seeded with one
// stop on a weekday line: two morning trips, a late-morning trip outside
// the two-hour window, and an overnight trip recorded past 24:00.
func newScheduleFixture(t *testing.T) *scheddb.Client {
	t.Helper()

	client, err := scheddb.NewClient(scheddb.NewConfig(":memory:", appconf.Test, false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	stmts := []string{
		`CREATE TABLE dict_stop (sid INTEGER PRIMARY KEY, stop_id TEXT NOT NULL UNIQUE)`,
		`CREATE TABLE stops (
			sid INTEGER PRIMARY KEY,
			stop_code TEXT,
			stop_name TEXT NOT NULL,
			stop_lat REAL NOT NULL,
			stop_lon REAL NOT NULL,
			wheelchair_boarding INTEGER,
			platform_code TEXT
		)`,
		`CREATE TABLE routes (rid INTEGER PRIMARY KEY, route_short_name TEXT, route_long_name TEXT, route_type INTEGER)`,
		`CREATE TABLE patterns (pid INTEGER PRIMARY KEY, rid INTEGER NOT NULL, direction_id INTEGER)`,
		`CREATE TABLE pattern_stops (
			pid INTEGER NOT NULL,
			stop_sequence INTEGER NOT NULL,
			sid INTEGER NOT NULL,
			arrival_offset_secs INTEGER NOT NULL,
			departure_offset_secs INTEGER NOT NULL
		)`,
		`CREATE TABLE trips (
			trip_id TEXT PRIMARY KEY,
			rid INTEGER NOT NULL,
			service_id TEXT NOT NULL,
			pid INTEGER NOT NULL,
			trip_headsign TEXT,
			wheelchair_accessible INTEGER,
			start_time_secs INTEGER
		)`,
		`CREATE TABLE calendar (service_id TEXT PRIMARY KEY, days INTEGER NOT NULL, start_date TEXT NOT NULL, end_date TEXT NOT NULL)`,
		`INSERT INTO dict_stop (sid, stop_id) VALUES (1, '200060')`,
		`INSERT INTO stops (sid, stop_code, stop_name, stop_lat, stop_lon, wheelchair_boarding, platform_code)
			VALUES (1, '200060', 'Central Station', -33.8832, 151.2070, 1, '16')`,
		`INSERT INTO routes (rid, route_short_name, route_long_name, route_type) VALUES (10, 'T1', 'North Shore Line', 2)`,
		`INSERT INTO patterns (pid, rid, direction_id) VALUES (100, 10, 0)`,
		`INSERT INTO pattern_stops (pid, stop_sequence, sid, arrival_offset_secs, departure_offset_secs)
			VALUES (100, 1, 1, 0, 0)`,
		`INSERT INTO trips (trip_id, rid, service_id, pid, trip_headsign, wheelchair_accessible, start_time_secs) VALUES
			('trip-am-1', 10, 'WD', 100, 'Hornsby', 1, 28800),
			('trip-am-2', 10, 'WD', 100, 'Hornsby', 2, 30600),
			('trip-mid',  10, 'WD', 100, 'Hornsby', 0, 39600),
			('trip-owl',  10, 'WD', 100, 'Hornsby', 1, 86700),
			('trip-owl-early', 10, 'WD', 100, 'Hornsby', 1, 86410)`,
		`INSERT INTO calendar (service_id, days, start_date, end_date) VALUES ('WD', 31, '2025-01-01', '2026-12-31')`,
	}
	for _, stmt := range stmts {
		_, err := client.DB.Exec(stmt)
		require.NoError(t, err)
	}

	return client
}
