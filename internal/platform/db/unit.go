package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UnitIDKey contextKey = "unit_id"
	DBConnKey contextKey = "db_conn"
	DBTxKey   contextKey = "db_tx"
)

var unitIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidUnitID reports whether id is usable as a clinic unit identifier.
func ValidUnitID(id string) bool {
	return unitIDPattern.MatchString(id)
}

// SchemaName returns the PostgreSQL schema that holds a unit's tables.
func SchemaName(unitID string) string {
	return fmt.Sprintf("unit_%s", unitID)
}

// UnitMiddleware resolves the clinic unit for the request, pins a pooled
// connection to the unit schema and stores both in the request context.
func UnitMiddleware(pool *pgxpool.Pool, defaultUnit string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Health checks manage their own connections.
			if strings.HasPrefix(c.Request().URL.Path, "/health") {
				return next(c)
			}
			unitID := extractUnitID(c, defaultUnit)

			if !ValidUnitID(unitID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid unit identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(unitID)))
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "unit resolution failed")
			}

			ctx = context.WithValue(ctx, UnitIDKey, unitID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("unit_id", unitID)

			return next(c)
		}
	}
}

func extractUnitID(c echo.Context, defaultUnit string) string {
	// JWT claim first, then header, then query.
	if uid, ok := c.Get("jwt_unit_id").(string); ok && uid != "" {
		return uid
	}
	if uid := c.Request().Header.Get("X-Unit-ID"); uid != "" {
		return uid
	}
	if uid := c.QueryParam("unit_id"); uid != "" {
		return uid
	}
	return defaultUnit
}

// ConnFromContext retrieves the unit-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// UnitFromContext retrieves the unit ID from context.
func UnitFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UnitIDKey).(string)
	return uid
}

// WithUnitConn acquires a connection, points it at the unit schema and runs
// fn with the connection and unit in context. Used outside HTTP requests.
func WithUnitConn(ctx context.Context, pool *pgxpool.Pool, unitID string, fn func(ctx context.Context) error) error {
	if !ValidUnitID(unitID) {
		return fmt.Errorf("invalid unit identifier: %s", unitID)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(unitID))); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	ctx = context.WithValue(ctx, UnitIDKey, unitID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return fn(ctx)
}

// CreateUnitSchema creates the schema for a clinic unit and applies all
// migrations to it. A nil migrations filesystem skips the migration step.
func CreateUnitSchema(ctx context.Context, pool *pgxpool.Pool, unitID string, migrations fs.FS) error {
	if !ValidUnitID(unitID) {
		return fmt.Errorf("invalid unit identifier: %s", unitID)
	}

	schema := SchemaName(unitID)

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrations != nil {
		migrator := NewMigrator(pool, migrations)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}
