package scheddb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/davecgh/go-spew/spew"
	"departures.sydneytransit.org/internal/logging"
)

// TableCounts returns per-table row counts for the known dataset tables.
func (c *Client) TableCounts() (map[string]int, error) {
	rows, err := c.DB.Query("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, fmt.Errorf("failed to query table names: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "debugging")),
		"database_rows")

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tableCountQueries := map[string]string{
		"dict_stop":      "SELECT COUNT(*) FROM dict_stop",
		"dict_route":     "SELECT COUNT(*) FROM dict_route",
		"dict_pattern":   "SELECT COUNT(*) FROM dict_pattern",
		"stops":          "SELECT COUNT(*) FROM stops",
		"routes":         "SELECT COUNT(*) FROM routes",
		"patterns":       "SELECT COUNT(*) FROM patterns",
		"pattern_stops":  "SELECT COUNT(*) FROM pattern_stops",
		"trips":          "SELECT COUNT(*) FROM trips",
		"calendar":       "SELECT COUNT(*) FROM calendar",
		"calendar_dates": "SELECT COUNT(*) FROM calendar_dates",
	}

	counts := make(map[string]int)
	for _, table := range tables {
		query, ok := tableCountQueries[table]
		if !ok {
			continue
		}

		var count int
		err := c.DB.QueryRow(query).Scan(&count)
		if err != nil {
			return nil, err
		}
		counts[table] = count
	}

	return counts, nil
}

// DebugDump renders a human-readable snapshot of the dataset's shape and
// probed capabilities, for the debug endpoint and interactive inspection.
func (c *Client) DebugDump(ctx context.Context) (string, error) {
	counts, err := c.TableCounts()
	if err != nil {
		return "", err
	}

	snapshot := struct {
		Path         string
		Capabilities Capability
		TableCounts  map[string]int
	}{
		Path:         c.config.DBPath,
		Capabilities: c.Capabilities(ctx),
		TableCounts:  counts,
	}

	return spew.Sdump(snapshot), nil
}
