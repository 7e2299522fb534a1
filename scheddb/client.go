// Package scheddb provides read-only access to the bundled offline schedule
// database: a pre-built SQLite artifact holding stops, routes, trip patterns
// and service calendars in a compact dictionary-keyed form. The dataset is
// immutable at runtime; concurrent readers are safe and expected.
package scheddb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver
	"departures.sydneytransit.org/internal/appconf"
	"departures.sydneytransit.org/internal/logging"
)

// Client is the main entry point for offline schedule access.
type Client struct {
	config Config
	DB     *sql.DB

	capabilityOnce sync.Once
	capability     Capability

	spatialOnce  sync.Once
	spatialIndex *stopSpatialIndex
	spatialErr   error
}

// Capability describes which optional schema elements the dataset carries.
// The schema is immutable for the process lifetime, so this is probed once.
type Capability struct {
	// HasTripStartTimes reports whether trips carry an explicit start-time
	// column. When absent, trip start offsets degrade to zero and effective
	// departure times rely solely on the per-stop pattern offset.
	HasTripStartTimes bool
}

// NewClient opens the offline schedule database read-only and validates it.
func NewClient(config Config) (*Client, error) {
	if config.Env == appconf.Test && config.DBPath != ":memory:" {
		return nil, fmt.Errorf("test database must use in-memory storage, got path: %s", config.DBPath)
	}

	db, err := openDB(config)
	if err != nil {
		return nil, fmt.Errorf("unable to open schedule DB: %w", err)
	}

	client := &Client{
		config: config,
		DB:     db,
	}

	// In-memory test databases start empty and are seeded by the caller.
	if config.Env != appconf.Test {
		if err := client.validate(context.Background()); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return client, nil
}

func openDB(config Config) (*sql.DB, error) {
	dsn := config.DBPath + "?_busy_timeout=5000"
	if config.Env != appconf.Test {
		// The dataset is a pre-built artifact; nothing writes at runtime.
		dsn += "&mode=ro"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// SQLite handles concurrent readers on a single connection poorly with
	// CGo drivers; a small pool keeps parallel stop queries from serializing.
	// In-memory databases exist per connection, so tests pin a single one.
	if config.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
	}
	db.SetConnMaxLifetime(0)

	return db, nil
}

// validate confirms the dataset is readable and logs its basic shape.
func (c *Client) validate(ctx context.Context) error {
	logger := slog.Default().With(slog.String("component", "scheddb"))

	var stopCount int64
	if err := c.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM stops").Scan(&stopCount); err != nil {
		return fmt.Errorf("schedule DB validation failed: %w", err)
	}

	logging.LogOperation(logger, "schedule_db_validated",
		slog.String("path", c.config.DBPath),
		slog.Int64("stops_count", stopCount))

	if c.config.verbose {
		if generated, err := c.Metadata(ctx, "generated_at"); err == nil {
			logging.LogOperation(logger, "schedule_db_metadata",
				slog.String("generated_at", generated))
		}
	}

	return nil
}

// Capabilities probes the optional schema elements once and returns the
// cached result on subsequent calls.
func (c *Client) Capabilities(ctx context.Context) Capability {
	c.capabilityOnce.Do(func() {
		c.capability = Capability{
			HasTripStartTimes: c.columnExists(ctx, "trips", "start_time_secs"),
		}
		if !c.capability.HasTripStartTimes {
			logger := slog.Default().With(slog.String("component", "scheddb"))
			logging.LogOperation(logger, "schedule_db_missing_trip_start_times",
				slog.String("effect", "trip start offsets degrade to zero"))
		}
	})
	return c.capability
}

func (c *Client) columnExists(ctx context.Context, table, column string) bool {
	rows, err := c.DB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "scheddb")), "pragma_rows")

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}

// Metadata returns a value from the dataset's metadata table.
func (c *Client) Metadata(ctx context.Context, key string) (string, error) {
	var value string
	err := c.DB.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("metadata lookup for %q: %w", key, err)
	}
	return value, nil
}

// GetDBPath returns the path of the underlying database file.
func (c *Client) GetDBPath() string {
	return c.config.DBPath
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// observeQuery logs a performance warning when an offline query exceeds its
// 100ms budget. The dataset is local; anything slower points at a missing
// index or contention worth knowing about.
func observeQuery(logger *slog.Logger, operation string, start time.Time) time.Duration {
	elapsed := time.Since(start)
	if elapsed > 100*time.Millisecond {
		logging.LogSlowQuery(logger, "schedule_db_slow_query", elapsed,
			slog.String("operation", operation))
	}
	return elapsed
}
