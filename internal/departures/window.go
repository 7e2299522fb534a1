package departures

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"departures.sydneytransit.org/internal/logging"
	"departures.sydneytransit.org/internal/metrics"
)

const (
	initialPageSize    = 15
	paginationPageSize = 10
	refreshPageSize    = 15

	refreshInterval  = 30 * time.Second
	debounceInterval = 300 * time.Millisecond
)

// Snapshot is the published state of a departure window: the ordered
// departures plus the flags a consumer needs to render them.
type Snapshot struct {
	Departures      []Departure
	IsLoading       bool
	IsLoadingPast   bool
	IsLoadingFuture bool
	HasMorePast     bool
	HasMoreFuture   bool
	IsOffline       bool
	ErrorMessage    string
}

// Window maintains a deduplicated, time-ordered sliding window of departures
// for one stop, extending it on demand in either direction and refreshing
// the live portion periodically. All mutations are serialized by a mutex;
// results of in-flight fetches from a previous session are discarded by an
// epoch check.
type Window struct {
	arbiter *Arbiter
	metrics *metrics.Metrics
	logger  *slog.Logger
	publish func(Snapshot)

	// Each pagination direction debounces its own re-triggers; the two
	// edges are independent and may load concurrently.
	limiterPast   *rate.Limiter
	limiterFuture *rate.Limiter

	mu            sync.Mutex
	stopID        string
	epoch         int
	started       bool
	departures    []Departure
	seen          map[Key]struct{}
	earliest      *int
	latest        *int
	hasMorePast   bool
	hasMoreFuture bool
	isOffline     bool

	isLoading       bool
	isLoadingPast   bool
	isLoadingFuture bool
	isRefreshing    bool
	errorMessage    string

	refreshTicker *time.Ticker
	shutdownChan  chan struct{}
}

// NewWindow creates a window over the given source arbiter. The publish
// callback receives every state change; it is invoked without the window
// lock held and must not block for long.
func NewWindow(arbiter *Arbiter, m *metrics.Metrics, publish func(Snapshot)) *Window {
	if publish == nil {
		publish = func(Snapshot) {}
	}
	return &Window{
		arbiter:       arbiter,
		metrics:       m,
		logger:        slog.Default().With(slog.String("component", "departure_window")),
		publish:       publish,
		limiterPast:   rate.NewLimiter(rate.Every(debounceInterval), 1),
		limiterFuture: rate.NewLimiter(rate.Every(debounceInterval), 1),
		seen:          make(map[Key]struct{}),
	}
}

// Start loads the initial window for a stop and begins the periodic refresh
// loop. A failed initial load is surfaced through the snapshot's error
// message and returned; the refresh loop still starts and will recover the
// window once the source comes back.
func (w *Window) Start(ctx context.Context, stopID string) error {
	w.mu.Lock()
	if w.started {
		w.stopLocked()
	}
	w.epoch++
	epoch := w.epoch
	w.started = true
	w.stopID = stopID
	w.departures = nil
	w.seen = make(map[Key]struct{})
	w.earliest = nil
	w.latest = nil
	w.hasMorePast = false
	w.hasMoreFuture = false
	w.isOffline = false
	w.errorMessage = ""
	w.isLoading = true
	w.isLoadingPast = false
	w.isLoadingFuture = false
	w.isRefreshing = false
	w.refreshTicker = time.NewTicker(refreshInterval)
	w.shutdownChan = make(chan struct{})
	snap := w.snapshotLocked()
	w.mu.Unlock()
	w.publish(snap)

	go w.refreshLoop(w.refreshTicker, w.shutdownChan)

	page, err := w.arbiter.GetPage(ctx, stopID, nil, DirectionFuture, initialPageSize)

	w.mu.Lock()
	if w.epoch != epoch {
		w.mu.Unlock()
		return nil
	}
	w.isLoading = false
	if err != nil {
		w.errorMessage = UserMessage(err)
		logging.LogError(w.logger, "initial departure load failed", err,
			slog.String("stop_id", stopID))
	} else {
		w.applyInitialLocked(page)
	}
	snap = w.snapshotLocked()
	w.mu.Unlock()
	w.publish(snap)

	return err
}

// Stop halts the refresh loop and invalidates all in-flight fetches.
func (w *Window) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *Window) stopLocked() {
	if !w.started {
		return
	}
	w.started = false
	w.epoch++
	w.refreshTicker.Stop()
	close(w.shutdownChan)
}

// LoadOlder extends the window into the past by one page. Calls made while
// a past fetch is in flight, within the debounce interval of the previous
// one, or when no older departures exist are ignored. Fetch failures leave
// the window unchanged.
func (w *Window) LoadOlder(ctx context.Context) {
	w.mu.Lock()
	if !w.started || w.isLoadingPast || !w.hasMorePast || !w.limiterPast.Allow() {
		w.mu.Unlock()
		return
	}
	epoch := w.epoch
	stopID := w.stopID
	var anchor *int
	if w.earliest != nil {
		anchor = intPtr(*w.earliest - 1)
	}
	w.isLoadingPast = true
	snap := w.snapshotLocked()
	w.mu.Unlock()
	w.publish(snap)

	page, err := w.arbiter.GetPage(ctx, stopID, anchor, DirectionPast, paginationPageSize)

	w.mu.Lock()
	if w.epoch != epoch {
		w.mu.Unlock()
		return
	}
	w.isLoadingPast = false
	if err != nil {
		logging.LogError(w.logger, "past page load failed", err,
			slog.String("stop_id", stopID))
	} else {
		w.applyPastLocked(page)
	}
	snap = w.snapshotLocked()
	w.mu.Unlock()
	w.publish(snap)
}

// LoadNewer extends the window into the future by one page, under the same
// guards as LoadOlder.
func (w *Window) LoadNewer(ctx context.Context) {
	w.mu.Lock()
	if !w.started || w.isLoadingFuture || !w.hasMoreFuture || !w.limiterFuture.Allow() {
		w.mu.Unlock()
		return
	}
	epoch := w.epoch
	stopID := w.stopID
	var anchor *int
	if w.latest != nil {
		anchor = intPtr(*w.latest + 1)
	}
	w.isLoadingFuture = true
	snap := w.snapshotLocked()
	w.mu.Unlock()
	w.publish(snap)

	page, err := w.arbiter.GetPage(ctx, stopID, anchor, DirectionFuture, paginationPageSize)

	w.mu.Lock()
	if w.epoch != epoch {
		w.mu.Unlock()
		return
	}
	w.isLoadingFuture = false
	if err != nil {
		logging.LogError(w.logger, "future page load failed", err,
			slog.String("stop_id", stopID))
	} else {
		w.applyFutureLocked(page)
	}
	snap = w.snapshotLocked()
	w.mu.Unlock()
	w.publish(snap)
}

func (w *Window) refreshLoop(ticker *time.Ticker, shutdown chan struct{}) {
	for {
		select {
		case <-ticker.C:
			w.refresh(context.Background())
		case <-shutdown:
			return
		}
	}
}

// refresh re-fetches the live edge of the window and merges it over the
// retained history. Departures already paged in stay in the window even
// when they have left the source's current answer; fresh entries replace
// stale copies of themselves.
func (w *Window) refresh(ctx context.Context) {
	w.mu.Lock()
	if !w.started || w.isLoading || w.isRefreshing {
		w.mu.Unlock()
		return
	}
	epoch := w.epoch
	stopID := w.stopID
	w.isRefreshing = true
	w.mu.Unlock()

	page, err := w.arbiter.GetPage(ctx, stopID, nil, DirectionFuture, refreshPageSize)

	w.mu.Lock()
	// A stale refresh from a torn-down session must not touch the current
	// session's guard; the flag now belongs to whoever set it after restart.
	if w.epoch != epoch {
		w.mu.Unlock()
		return
	}
	w.isRefreshing = false
	outcome := "success"
	if err != nil {
		outcome = "error"
		logging.LogError(w.logger, "window refresh failed", err,
			slog.String("stop_id", stopID))
		w.mu.Unlock()
		if w.metrics != nil {
			w.metrics.WindowRefreshesTotal.WithLabelValues(outcome).Inc()
		}
		return
	}
	w.applyRefreshLocked(page)
	snap := w.snapshotLocked()
	w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.WindowRefreshesTotal.WithLabelValues(outcome).Inc()
	}
	w.publish(snap)
}

func (w *Window) applyInitialLocked(page Page) {
	w.departures = nil
	w.seen = make(map[Key]struct{})
	for _, dep := range page.Departures {
		key := dep.Key()
		if _, dup := w.seen[key]; dup {
			continue
		}
		w.seen[key] = struct{}{}
		w.departures = append(w.departures, dep)
	}
	w.sortLocked()
	w.earliest = page.EarliestTimeSecs
	w.latest = page.LatestTimeSecs
	w.hasMorePast = page.HasMorePast
	w.hasMoreFuture = page.HasMoreFuture
	w.isOffline = page.IsOffline
	w.errorMessage = ""
	w.observeSizeLocked()
}

// applyPastLocked merges an older page. Past pages arrive newest-first, so
// they are reversed into chronological order before prepending.
func (w *Window) applyPastLocked(page Page) {
	incoming := make([]Departure, len(page.Departures))
	copy(incoming, page.Departures)
	for i, j := 0, len(incoming)-1; i < j; i, j = i+1, j-1 {
		incoming[i], incoming[j] = incoming[j], incoming[i]
	}

	var fresh []Departure
	for _, dep := range incoming {
		key := dep.Key()
		if _, dup := w.seen[key]; dup {
			continue
		}
		w.seen[key] = struct{}{}
		fresh = append(fresh, dep)
	}
	w.departures = append(fresh, w.departures...)
	w.sortLocked()

	w.widenEarliestLocked(page.EarliestTimeSecs)
	w.hasMorePast = page.HasMorePast
	w.isOffline = page.IsOffline
	w.observeSizeLocked()
}

func (w *Window) applyFutureLocked(page Page) {
	for _, dep := range page.Departures {
		key := dep.Key()
		if _, dup := w.seen[key]; dup {
			continue
		}
		w.seen[key] = struct{}{}
		w.departures = append(w.departures, dep)
	}
	w.sortLocked()

	w.widenLatestLocked(page.LatestTimeSecs)
	w.hasMoreFuture = page.HasMoreFuture
	w.isOffline = page.IsOffline
	w.observeSizeLocked()
}

func (w *Window) applyRefreshLocked(page Page) {
	freshKeys := make(map[Key]struct{}, len(page.Departures))
	for _, dep := range page.Departures {
		freshKeys[dep.Key()] = struct{}{}
	}

	// History first: entries the user paged in survive the refresh unless
	// the fresh page carries an updated copy of them.
	var merged []Departure
	seen := make(map[Key]struct{})
	for _, dep := range w.departures {
		key := dep.Key()
		if _, replaced := freshKeys[key]; replaced {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, dep)
	}
	for _, dep := range page.Departures {
		key := dep.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, dep)
	}

	w.departures = merged
	w.seen = seen
	w.sortLocked()

	w.widenEarliestLocked(page.EarliestTimeSecs)
	w.widenLatestLocked(page.LatestTimeSecs)
	w.hasMorePast = page.HasMorePast
	w.hasMoreFuture = page.HasMoreFuture
	w.isOffline = page.IsOffline
	w.errorMessage = ""
	w.observeSizeLocked()
}

// widenEarliestLocked moves the past cursor only outward. A refresh or a
// short page never narrows the already-covered range.
func (w *Window) widenEarliestLocked(candidate *int) {
	if candidate == nil {
		return
	}
	if w.earliest == nil || *candidate < *w.earliest {
		v := *candidate
		w.earliest = &v
	}
}

func (w *Window) widenLatestLocked(candidate *int) {
	if candidate == nil {
		return
	}
	if w.latest == nil || *candidate > *w.latest {
		v := *candidate
		w.latest = &v
	}
}

// sortLocked orders the window by effective departure time. Ties fall back
// to the scheduled time and then the stop sequence so the order is stable
// across refreshes.
func (w *Window) sortLocked() {
	sort.SliceStable(w.departures, func(i, j int) bool {
		a, b := w.departures[i], w.departures[j]
		if a.RealtimeTimeSecs != b.RealtimeTimeSecs {
			return a.RealtimeTimeSecs < b.RealtimeTimeSecs
		}
		if a.ScheduledTimeSecs != b.ScheduledTimeSecs {
			return a.ScheduledTimeSecs < b.ScheduledTimeSecs
		}
		return a.StopSequence < b.StopSequence
	})
}

func (w *Window) observeSizeLocked() {
	if w.metrics != nil {
		w.metrics.WindowSize.Set(float64(len(w.departures)))
	}
}

func (w *Window) snapshotLocked() Snapshot {
	deps := make([]Departure, len(w.departures))
	copy(deps, w.departures)
	return Snapshot{
		Departures:      deps,
		IsLoading:       w.isLoading,
		IsLoadingPast:   w.isLoadingPast,
		IsLoadingFuture: w.isLoadingFuture,
		HasMorePast:     w.hasMorePast,
		HasMoreFuture:   w.hasMoreFuture,
		IsOffline:       w.isOffline,
		ErrorMessage:    w.errorMessage,
	}
}

// Snapshot returns the current window state.
func (w *Window) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}
