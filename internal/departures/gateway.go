package departures

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
	"departures.sydneytransit.org/internal/clock"
	"departures.sydneytransit.org/internal/logging"
	"departures.sydneytransit.org/internal/metrics"
)

// Direction selects which side of the anchor a page covers.
type Direction string

const (
	DirectionPast   Direction = "past"
	DirectionFuture Direction = "future"
)

// Page is one fetched page of departures with its pagination metadata.
// Ordering follows the source: ascending for future pages, descending for
// past pages. Callers must not assume a uniform order across directions.
type Page struct {
	Departures       []Departure
	EarliestTimeSecs *int
	LatestTimeSecs   *int
	HasMorePast      bool
	HasMoreFuture    bool

	// IsOffline marks pages served from the static fallback.
	IsOffline bool
}

// Gateway fetches pages of departures from the remote realtime source.
type Gateway interface {
	FetchPage(ctx context.Context, stopID string, anchorTimeSecs *int, direction Direction, limit int) (Page, error)
}

const (
	// requestTimeout bounds a single request's header wait; resourceTimeout
	// bounds the whole exchange including the body. Matches the upstream
	// API's own budget of 8s per request inside a 15s hard limit.
	requestTimeout  = 8 * time.Second
	resourceTimeout = 15 * time.Second

	maxResponseSize = 10 * 1024 * 1024
)

// HTTPGateway is the production Gateway over the departures REST API.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	clock   clock.Clock
	tz      *time.Location
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHTTPGateway creates a gateway for the given API base URL, e.g.
// "https://api.example.org/api/v1".
func NewHTTPGateway(baseURL string, clk clock.Clock, tz *time.Location, m *metrics.Metrics) *HTTPGateway {
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.MaxIdleConns = 10
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.ResponseHeaderTimeout = requestTimeout
	// Gzip is negotiated and decoded explicitly below.
	transport.DisableCompression = true

	return &HTTPGateway{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   resourceTimeout,
			Transport: transport,
		},
		clock:   clk,
		tz:      tz,
		metrics: m,
		logger:  slog.Default().With(slog.String("component", "departure_gateway")),
	}
}

// FetchPage requests one page of departures around the anchor time. Errors
// are always one of the engine's classified kinds.
func (g *HTTPGateway) FetchPage(ctx context.Context, stopID string, anchorTimeSecs *int, direction Direction, limit int) (Page, error) {
	start := time.Now()
	page, err := g.fetchPage(ctx, stopID, anchorTimeSecs, direction, limit)

	if g.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		g.metrics.RemoteFetchesTotal.WithLabelValues(string(direction), outcome).Inc()
		g.metrics.RemoteFetchDuration.WithLabelValues(string(direction)).Observe(time.Since(start).Seconds())
	}

	return page, err
}

func (g *HTTPGateway) fetchPage(ctx context.Context, stopID string, anchorTimeSecs *int, direction Direction, limit int) (Page, error) {
	endpoint := fmt.Sprintf("%s/stops/%s/departures", g.baseURL, url.PathEscape(stopID))

	query := url.Values{}
	query.Set("direction", string(direction))
	query.Set("limit", strconv.Itoa(limit))
	if anchorTimeSecs != nil {
		query.Set("time", strconv.Itoa(*anchorTimeSecs))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return Page{}, &MalformedResponseError{Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := g.client.Do(req)
	if err != nil {
		return Page{}, classifyTransportError(err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, g.logger, "http_response_body")

	body, err := readBody(resp)
	if err != nil {
		return Page{}, err
	}

	if resp.StatusCode == http.StatusRequestTimeout {
		return Page{}, &TimeoutError{Cause: fmt.Errorf("upstream returned %s", resp.Status)}
	}
	if resp.StatusCode >= 400 {
		return Page{}, &ServerError{
			StatusCode: resp.StatusCode,
			Message:    decodeErrorMessage(body),
		}
	}

	return g.decodePage(body)
}

// readBody reads the size-capped response body, decoding gzip when the
// server honored the negotiated encoding.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = io.LimitReader(resp.Body, maxResponseSize+1)

	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, &MalformedResponseError{Cause: fmt.Errorf("gzip reader: %w", err)}
		}
		defer func() { _ = gz.Close() }()
		reader = io.LimitReader(gz, maxResponseSize+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if int64(len(body)) > maxResponseSize {
		return nil, &MalformedResponseError{Cause: fmt.Errorf("response exceeds size limit of %d bytes", maxResponseSize)}
	}
	return body, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Cause: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &TimeoutError{Cause: err}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Cause: err}
	}
	return &ConnectivityError{Cause: err}
}

// errorEnvelope matches the API's error body shape.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeErrorMessage(body []byte) string {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.Error.Message
}

// flexString accepts both JSON strings and numbers, normalizing numeric
// platform codes to their string form.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// wireDeparture is the raw payload shape. Optional fields are pointers so
// absence is distinguishable from zero and can take documented defaults.
type wireDeparture struct {
	TripID               *string    `json:"trip_id"`
	RouteShortName       string     `json:"route_short_name"`
	Headsign             string     `json:"headsign"`
	ScheduledTimeSecs    *int       `json:"scheduled_time_secs"`
	RealtimeTimeSecs     *int       `json:"realtime_time_secs"`
	MinutesUntil         *int       `json:"minutes_until"`
	DelaySecs            *int       `json:"delay_s"`
	Realtime             *bool      `json:"realtime"`
	Platform             flexString `json:"platform"`
	WheelchairAccessible *int       `json:"wheelchair_accessible"`
	OccupancyStatus      *int       `json:"occupancy_status"`
	StopSequence         *int       `json:"stop_sequence"`
}

type pageEnvelope struct {
	Data struct {
		Departures       []wireDeparture `json:"departures"`
		EarliestTimeSecs *int            `json:"earliest_time_secs"`
		LatestTimeSecs   *int            `json:"latest_time_secs"`
		HasMorePast      bool            `json:"has_more_past"`
		HasMoreFuture    bool            `json:"has_more_future"`
	} `json:"data"`
}

func (g *HTTPGateway) decodePage(body []byte) (Page, error) {
	var envelope pageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Page{}, &MalformedResponseError{Cause: err}
	}

	nowSecs := clock.ServiceTimeAt(g.clock.Now(), g.tz).SecondsSinceMidnight

	page := Page{
		EarliestTimeSecs: envelope.Data.EarliestTimeSecs,
		LatestTimeSecs:   envelope.Data.LatestTimeSecs,
		HasMorePast:      envelope.Data.HasMorePast,
		HasMoreFuture:    envelope.Data.HasMoreFuture,
	}

	for i, wire := range envelope.Data.Departures {
		dep, err := decodeDeparture(wire, nowSecs)
		if err != nil {
			return Page{}, &MalformedResponseError{Cause: fmt.Errorf("departure %d: %w", i, err)}
		}
		page.Departures = append(page.Departures, dep)
	}

	// Derive bounds when the server omits them; the backend always sets
	// them for non-empty pages, but a defensive default keeps pagination
	// working against older deployments.
	if page.EarliestTimeSecs == nil || page.LatestTimeSecs == nil {
		for _, dep := range page.Departures {
			t := dep.RealtimeTimeSecs
			if page.EarliestTimeSecs == nil || t < *page.EarliestTimeSecs {
				page.EarliestTimeSecs = intPtr(t)
			}
			if page.LatestTimeSecs == nil || t > *page.LatestTimeSecs {
				page.LatestTimeSecs = intPtr(t)
			}
		}
	}

	return page, nil
}

// decodeDeparture applies the documented defaults: realtime time falls back
// to scheduled, delay to zero, accessibility to unknown, occupancy clamps to
// the 0-6 ordinal range. Identity fields have no safe default.
func decodeDeparture(wire wireDeparture, nowSecs int) (Departure, error) {
	if wire.TripID == nil || *wire.TripID == "" {
		return Departure{}, errors.New("missing trip_id")
	}
	if wire.ScheduledTimeSecs == nil {
		return Departure{}, errors.New("missing scheduled_time_secs")
	}

	scheduled := *wire.ScheduledTimeSecs

	delay := 0
	if wire.DelaySecs != nil {
		delay = *wire.DelaySecs
	}

	realtimeSecs := scheduled + delay
	if wire.RealtimeTimeSecs != nil {
		realtimeSecs = *wire.RealtimeTimeSecs
	}

	isRealtime := delay != 0
	if wire.Realtime != nil {
		isRealtime = *wire.Realtime
	}

	minutes := minutesUntil(realtimeSecs, nowSecs)
	if wire.MinutesUntil != nil {
		minutes = *wire.MinutesUntil
	}

	accessibility := AccessibilityUnknown
	if wire.WheelchairAccessible != nil {
		switch *wire.WheelchairAccessible {
		case 1:
			accessibility = AccessibilityYes
		case 2:
			accessibility = AccessibilityNo
		}
	}

	var occupancy *int
	if wire.OccupancyStatus != nil && *wire.OccupancyStatus >= 0 {
		v := *wire.OccupancyStatus
		if v > 6 {
			v = 6
		}
		occupancy = &v
	}

	stopSequence := 0
	if wire.StopSequence != nil {
		stopSequence = *wire.StopSequence
	}

	return Departure{
		TripID:               *wire.TripID,
		RouteShortName:       wire.RouteShortName,
		Headsign:             wire.Headsign,
		ScheduledTimeSecs:    scheduled,
		RealtimeTimeSecs:     realtimeSecs,
		MinutesUntil:         minutes,
		DelaySeconds:         delay,
		IsRealtime:           isRealtime,
		Platform:             string(wire.Platform),
		WheelchairAccessible: accessibility,
		OccupancyStatus:      occupancy,
		StopSequence:         stopSequence,
	}, nil
}

func intPtr(v int) *int { return &v }
