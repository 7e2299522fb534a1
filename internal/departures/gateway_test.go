package departures

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"departures.sydneytransit.org/internal/clock"
	"departures.sydneytransit.org/internal/metrics"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*HTTPGateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	// 2025-06-02 08:00:00 UTC, so nowSecs in UTC is 28800.
	clk := clock.NewMockClock(time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC))
	gw := NewHTTPGateway(server.URL, clk, time.UTC, metrics.New())
	return gw, server
}

func TestFetchPageDecodesFullPayload(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stops/200060/departures", r.URL.Path)
		assert.Equal(t, "future", r.URL.Query().Get("direction"))
		assert.Equal(t, "15", r.URL.Query().Get("limit"))
		assert.Equal(t, "28800", r.URL.Query().Get("time"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": {
				"departures": [{
					"trip_id": "trip-1",
					"route_short_name": "T1",
					"headsign": "Hornsby",
					"scheduled_time_secs": 29100,
					"realtime_time_secs": 29220,
					"minutes_until": 7,
					"delay_s": 120,
					"realtime": true,
					"platform": "16",
					"wheelchair_accessible": 1,
					"occupancy_status": 2,
					"stop_sequence": 4
				}],
				"earliest_time_secs": 29220,
				"latest_time_secs": 29220,
				"has_more_past": true,
				"has_more_future": true
			},
			"meta": {"generated_at": 1748841600}
		}`))
	})

	anchor := 28800
	page, err := gw.FetchPage(context.Background(), "200060", &anchor, DirectionFuture, 15)
	require.NoError(t, err)
	require.Len(t, page.Departures, 1)

	dep := page.Departures[0]
	assert.Equal(t, "trip-1", dep.TripID)
	assert.Equal(t, "T1", dep.RouteShortName)
	assert.Equal(t, "Hornsby", dep.Headsign)
	assert.Equal(t, 29100, dep.ScheduledTimeSecs)
	assert.Equal(t, 29220, dep.RealtimeTimeSecs)
	assert.Equal(t, 7, dep.MinutesUntil)
	assert.Equal(t, 120, dep.DelaySeconds)
	assert.True(t, dep.IsRealtime)
	assert.Equal(t, "16", dep.Platform)
	assert.Equal(t, AccessibilityYes, dep.WheelchairAccessible)
	require.NotNil(t, dep.OccupancyStatus)
	assert.Equal(t, 2, *dep.OccupancyStatus)
	assert.Equal(t, 4, dep.StopSequence)

	require.NotNil(t, page.EarliestTimeSecs)
	assert.Equal(t, 29220, *page.EarliestTimeSecs)
	assert.True(t, page.HasMorePast)
	assert.True(t, page.HasMoreFuture)
	assert.False(t, page.IsOffline)
}

func TestFetchPageAppliesDefaults(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		// Only the identity fields; everything else takes its default.
		_, _ = w.Write([]byte(`{"data": {"departures": [{
			"trip_id": "trip-1",
			"scheduled_time_secs": 29100
		}]}}`))
	})

	page, err := gw.FetchPage(context.Background(), "200060", nil, DirectionFuture, 15)
	require.NoError(t, err)
	require.Len(t, page.Departures, 1)

	dep := page.Departures[0]
	assert.Equal(t, 29100, dep.RealtimeTimeSecs, "realtime falls back to scheduled")
	assert.Equal(t, 0, dep.DelaySeconds)
	assert.False(t, dep.IsRealtime)
	assert.Equal(t, "", dep.Platform)
	assert.Equal(t, AccessibilityUnknown, dep.WheelchairAccessible)
	assert.Nil(t, dep.OccupancyStatus)
	// Mock clock is at 28800: five minutes until 29100.
	assert.Equal(t, 5, dep.MinutesUntil)

	// Missing bounds derive from the departures.
	require.NotNil(t, page.EarliestTimeSecs)
	assert.Equal(t, 29100, *page.EarliestTimeSecs)
	require.NotNil(t, page.LatestTimeSecs)
	assert.Equal(t, 29100, *page.LatestTimeSecs)
}

func TestFetchPageNormalizesFields(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"departures": [
			{"trip_id": "a", "scheduled_time_secs": 29100, "platform": 3, "occupancy_status": 9},
			{"trip_id": "b", "scheduled_time_secs": 29200, "occupancy_status": -1},
			{"trip_id": "c", "scheduled_time_secs": 29300, "delay_s": 60}
		]}}`))
	})

	page, err := gw.FetchPage(context.Background(), "200060", nil, DirectionFuture, 15)
	require.NoError(t, err)
	require.Len(t, page.Departures, 3)

	// Numeric platform codes become strings; occupancy clamps to the 0-6
	// ordinal range and negatives are dropped.
	assert.Equal(t, "3", page.Departures[0].Platform)
	require.NotNil(t, page.Departures[0].OccupancyStatus)
	assert.Equal(t, 6, *page.Departures[0].OccupancyStatus)
	assert.Nil(t, page.Departures[1].OccupancyStatus)

	// A delay without an explicit realtime flag implies live data.
	assert.True(t, page.Departures[2].IsRealtime)
	assert.Equal(t, 29360, page.Departures[2].RealtimeTimeSecs)
}

func TestFetchPageMissingIdentityFields(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"departures": [{"headsign": "Hornsby"}]}}`))
	})

	_, err := gw.FetchPage(context.Background(), "200060", nil, DirectionFuture, 15)
	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
}

func TestFetchPageInvalidJSON(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	})

	_, err := gw.FetchPage(context.Background(), "200060", nil, DirectionFuture, 15)
	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
}

func TestFetchPageNotFound(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"code": "stop_not_found", "message": "Stop 999 not found"}}`))
	})

	_, err := gw.FetchPage(context.Background(), "999", nil, DirectionFuture, 15)
	var server *ServerError
	require.ErrorAs(t, err, &server)
	assert.Equal(t, http.StatusNotFound, server.StatusCode)
	assert.Equal(t, "Stop 999 not found", server.Message)
	assert.Equal(t, "This stop is not in our database", UserMessage(err))
}

func TestFetchPageServerError(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`boom`))
	})

	_, err := gw.FetchPage(context.Background(), "200060", nil, DirectionFuture, 15)
	var server *ServerError
	require.ErrorAs(t, err, &server)
	assert.Equal(t, http.StatusInternalServerError, server.StatusCode)
	assert.Equal(t, "", server.Message)
}

func TestFetchPageConnectivityError(t *testing.T) {
	gw, server := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := gw.FetchPage(context.Background(), "200060", nil, DirectionFuture, 15)
	var connectivity *ConnectivityError
	require.ErrorAs(t, err, &connectivity)
	assert.Equal(t, "No internet connection", UserMessage(err))
}

func TestFetchPageContextTimeout(t *testing.T) {
	release := make(chan struct{})
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := gw.FetchPage(ctx, "200060", nil, DirectionFuture, 15)
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "Request timed out. Please try again.", UserMessage(err))
}

func TestFetchPageGzipResponse(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip", r.Header.Get("Accept-Encoding"))

		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(`{"data": {"departures": [{"trip_id": "trip-1", "scheduled_time_secs": 29100}]}}`))
		_ = gz.Close()
	})

	page, err := gw.FetchPage(context.Background(), "200060", nil, DirectionFuture, 15)
	require.NoError(t, err)
	require.Len(t, page.Departures, 1)
	assert.Equal(t, "trip-1", page.Departures[0].TripID)
}

func TestFetchPageEmpty(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"departures": [], "has_more_past": false, "has_more_future": false}}`))
	})

	page, err := gw.FetchPage(context.Background(), "200060", nil, DirectionFuture, 15)
	require.NoError(t, err)
	assert.Empty(t, page.Departures)
	assert.Nil(t, page.EarliestTimeSecs)
	assert.Nil(t, page.LatestTimeSecs)
}
