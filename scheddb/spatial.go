package scheddb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/rtree"
	"departures.sydneytransit.org/internal/logging"
)

// stopSpatialIndex is an immutable in-memory rtree over stop coordinates,
// built once from the dataset on first use. Points are stored (lon, lat).
type stopSpatialIndex struct {
	tree  rtree.RTree
	stops map[int64]Stop
}

func (c *Client) buildSpatialIndex(ctx context.Context) (*stopSpatialIndex, error) {
	logger := slog.Default().With(slog.String("component", "scheddb"))
	start := time.Now()

	rows, err := c.DB.QueryContext(ctx, `
		SELECT sid, stop_code, stop_name, stop_lat, stop_lon, wheelchair_boarding, platform_code
		FROM stops`)
	if err != nil {
		return nil, fmt.Errorf("spatial index stop scan: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows, logger, "spatial_index_rows")

	index := &stopSpatialIndex{stops: make(map[int64]Stop)}
	for rows.Next() {
		var s Stop
		if err := rows.Scan(&s.Sid, &s.StopCode, &s.StopName, &s.StopLat, &s.StopLon, &s.WheelchairBoarding, &s.PlatformCode); err != nil {
			return nil, fmt.Errorf("spatial index scan: %w", err)
		}
		point := [2]float64{s.StopLon, s.StopLat}
		index.tree.Insert(point, point, s.Sid)
		index.stops[s.Sid] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("spatial index rows: %w", err)
	}

	logging.LogOperation(logger, "stop_spatial_index_built",
		slog.Int("stops", len(index.stops)),
		slog.Duration("duration", time.Since(start)))

	return index, nil
}

// StopsInRegion returns up to limit stops inside the bounding box. The index
// is built lazily on first call and reused for the process lifetime; the
// dataset never changes underneath it.
func (c *Client) StopsInRegion(ctx context.Context, minLat, maxLat, minLon, maxLon float64, limit int) ([]Stop, error) {
	c.spatialOnce.Do(func() {
		c.spatialIndex, c.spatialErr = c.buildSpatialIndex(ctx)
	})
	if c.spatialErr != nil {
		return nil, c.spatialErr
	}

	var results []Stop
	c.spatialIndex.tree.Search(
		[2]float64{minLon, minLat},
		[2]float64{maxLon, maxLat},
		func(min, max [2]float64, value interface{}) bool {
			sid, ok := value.(int64)
			if !ok {
				return true
			}
			results = append(results, c.spatialIndex.stops[sid])
			return limit <= 0 || len(results) < limit
		},
	)

	return results, nil
}
