package departures

import (
	"context"
	"log/slog"

	"departures.sydneytransit.org/internal/logging"
	"departures.sydneytransit.org/internal/metrics"
)

// Arbiter mediates between the remote realtime gateway and the static
// schedule fallback. The remote source is authoritative whenever it answers
// with data; the static schedule covers outages and empty answers.
type Arbiter struct {
	gateway  Gateway
	resolver *StaticScheduleResolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewArbiter wires a remote gateway to its offline fallback.
func NewArbiter(gateway Gateway, resolver *StaticScheduleResolver, m *metrics.Metrics) *Arbiter {
	return &Arbiter{
		gateway:  gateway,
		resolver: resolver,
		metrics:  m,
		logger:   slog.Default().With(slog.String("component", "source_arbiter")),
	}
}

// GetPage fetches one page of departures, preferring the remote source.
//
// A successful remote page with departures is returned verbatim. A
// successful but empty remote page falls back to the static schedule, since
// an empty realtime answer is indistinguishable from missing coverage. A
// remote failure falls back the same way, but if the static schedule is
// also empty or unavailable the ORIGINAL remote error is returned: an empty
// offline page must not mask an outage as a quiet stop.
func (a *Arbiter) GetPage(ctx context.Context, stopID string, anchorTimeSecs *int, direction Direction, limit int) (Page, error) {
	page, remoteErr := a.gateway.FetchPage(ctx, stopID, anchorTimeSecs, direction, limit)
	if remoteErr == nil && len(page.Departures) > 0 {
		return page, nil
	}

	reason := "empty_remote"
	if remoteErr != nil {
		reason = "remote_error"
		logging.LogError(a.logger, "remote departures fetch failed, trying offline schedule", remoteErr,
			slog.String("stop_id", stopID),
			slog.String("direction", string(direction)))
	}
	if a.metrics != nil {
		a.metrics.OfflineFallbackTotal.WithLabelValues(reason).Inc()
	}

	offline, offlineErr := a.resolver.ResolveDepartures(ctx, stopID, limit, anchorTimeSecs)
	if offlineErr != nil || len(offline) == 0 {
		if remoteErr != nil {
			if offlineErr != nil {
				logging.LogError(a.logger, "offline fallback also failed", offlineErr,
					slog.String("stop_id", stopID))
			}
			return Page{}, remoteErr
		}
		if offlineErr != nil {
			return Page{}, offlineErr
		}
		// Both sources agree the stop is quiet.
		return Page{IsOffline: true}, nil
	}

	logging.LogOperation(a.logger, "offline_fallback_served",
		slog.String("stop_id", stopID),
		slog.String("reason", reason),
		slog.Int("departures", len(offline)))

	return offlinePage(offline), nil
}

// offlinePage wraps static results in page form. The static schedule cannot
// paginate beyond its fixed look-ahead window, so both has-more flags are
// cleared.
func offlinePage(deps []Departure) Page {
	page := Page{
		Departures: deps,
		IsOffline:  true,
	}
	for _, dep := range deps {
		t := dep.RealtimeTimeSecs
		if page.EarliestTimeSecs == nil || t < *page.EarliestTimeSecs {
			page.EarliestTimeSecs = intPtr(t)
		}
		if page.LatestTimeSecs == nil || t > *page.LatestTimeSecs {
			page.LatestTimeSecs = intPtr(t)
		}
	}
	return page
}
