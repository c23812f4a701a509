package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// SchemaState classifies a unit schema by its highest applied migration
// against the highest migration shipped with the binary.
func SchemaState(applied, latest int) string {
	switch {
	case applied == 0:
		return "uninitialized"
	case applied < latest:
		return "pending"
	default:
		return "current"
	}
}

func appliedVersion(ctx context.Context, pool *pgxpool.Pool, unitID string) (int, error) {
	var exists bool
	schema := SchemaName(unitID)
	if err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = '_migrations')`,
		schema).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	var v int
	err := pool.QueryRow(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(version), 0) FROM %s._migrations`, schema)).Scan(&v)
	return v, err
}

// HealthHandler pings the database and reports pool statistics together with
// the migration state of the requested (or default) unit schema.
func HealthHandler(pool *pgxpool.Pool, migrations fs.FS, defaultUnit string) echo.HandlerFunc {
	latest := 0
	if migs, err := NewMigrator(nil, migrations).LoadMigrations(); err == nil && len(migs) > 0 {
		latest = migs[len(migs)-1].Version
	}

	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		stats := GetPoolStats(pool)
		if err := pool.Ping(ctx); err != nil {
			stats.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   stats,
			})
		}

		unitID := c.QueryParam("unit_id")
		if unitID == "" {
			unitID = defaultUnit
		}
		if !ValidUnitID(unitID) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid unit identifier")
		}

		applied, err := appliedVersion(ctx, pool, unitID)
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   stats,
			})
		}

		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"pool":   stats,
			"unit": map[string]interface{}{
				"id":             unitID,
				"schema_version": applied,
				"latest_version": latest,
				"state":          SchemaState(applied, latest),
			},
		})
	}
}
