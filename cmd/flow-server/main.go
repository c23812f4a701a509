package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/patientflow/patientflow/internal/config"
	"github.com/patientflow/patientflow/internal/domain/attendance"
	"github.com/patientflow/patientflow/internal/domain/patient"
	"github.com/patientflow/patientflow/internal/domain/staff"
	"github.com/patientflow/patientflow/internal/platform/announce"
	"github.com/patientflow/patientflow/internal/platform/auth"
	"github.com/patientflow/patientflow/internal/platform/db"
	"github.com/patientflow/patientflow/internal/platform/middleware"
	"github.com/patientflow/patientflow/internal/platform/reporting"
	"github.com/patientflow/patientflow/internal/platform/websocket"
	"github.com/patientflow/patientflow/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "flow-server",
		Short: "Emergency care patient flow server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(unitCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(callsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the patient flow API and display feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// services bundles the domain services shared by the server and the CLI.
type services struct {
	patients   *patient.Service
	staff      *staff.Service
	attendance *attendance.Service
	daily      *reporting.DailyReport
	displays   *websocket.Hub
	loc        *time.Location
}

func buildServices(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*services, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	patientSvc := patient.NewService(patient.NewRepoPG(pool))
	staffSvc := staff.NewService(staff.NewRepoPG(pool))

	opts := attendance.DefaultOptions()
	opts.TicketPrefix = cfg.TicketPrefix
	opts.Location = loc
	opts.ReceptionCallWindow = cfg.ReceptionCallWindow
	opts.ReceptionInProgress = cfg.ReceptionInProgressWindow
	opts.DisplayUpcomingLimit = cfg.DisplayUpcomingLimit
	opts.DisplayCorridorLimit = cfg.DisplayCorridorLimit
	opts.DisplayRecentCallLimit = cfg.DisplayRecentCallsLimit

	attendanceSvc := attendance.NewService(attendance.NewRepoPG(pool), db.NewTxRunner(pool),
		patientSvc, staffSvc, opts, logger)
	hub := websocket.NewHub(cfg.DefaultUnit, logger)
	attendanceSvc.SetAnnouncer(hub)

	return &services{
		patients:   patientSvc,
		staff:      staffSvc,
		attendance: attendanceSvc,
		daily:      reporting.NewDailyReport(attendanceSvc, patientSvc, loc),
		displays:   hub,
		loc:        loc,
	}, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	svcs, err := buildServices(cfg, pool, logger)
	if err != nil {
		return err
	}

	if cfg.RedisURL != "" {
		client, err := announce.NewClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := announce.Ping(ctx, client); err != nil {
			// Displays keep polling; announcements resume when Redis is back.
			logger.Warn().Err(err).Msg("redis unreachable at startup")
		}
		svcs.attendance.SetAnnouncer(announce.Multi{
			svcs.displays,
			announce.NewRedisAnnouncer(client, cfg.DefaultUnit, logger),
		})
		logger.Info().Msg("redis call announcements enabled")
	}

	e, err := newServer(cfg, pool, svcs, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("unit", cfg.DefaultUnit).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(cfg *config.Config, pool *pgxpool.Pool, svcs *services, logger zerolog.Logger) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Unit-ID"},
	}))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	e.Use(middleware.RateLimit(rateLimitCfg))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	authMW, err := authMiddleware(cfg)
	if err != nil {
		return nil, err
	}
	e.Use(authMW)
	e.Use(db.UnitMiddleware(pool, cfg.DefaultUnit))
	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, migrations.FS, cfg.DefaultUnit))

	apiV1 := e.Group("/api/v1")
	displays := e.Group("/displays")

	patient.NewHandler(svcs.patients).RegisterRoutes(apiV1)
	staff.NewHandler(svcs.staff).RegisterRoutes(apiV1)
	attendance.NewHandler(svcs.attendance).RegisterRoutes(apiV1, displays)
	websocket.NewHandler(svcs.displays).RegisterRoutes(displays)
	reporting.NewHandler(reporting.NewPoolRunner(pool), svcs.daily, svcs.loc).RegisterRoutes(apiV1)

	return e, nil
}

func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	switch cfg.ResolvedAuthMode() {
	case "development":
		return auth.DevAuthMiddleware(auth.AuthSkipper), nil
	case "external":
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}
		if cfg.AuthSigningKey != "" {
			jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
		}
		return auth.JWTMiddleware(jwtCfg), nil
	default:
		return nil, fmt.Errorf("unsupported AUTH_MODE %q", cfg.AuthMode)
	}
}
