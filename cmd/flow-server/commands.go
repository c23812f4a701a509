package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/patientflow/patientflow/internal/config"
	"github.com/patientflow/patientflow/internal/domain/attendance"
	"github.com/patientflow/patientflow/internal/platform/announce"
	"github.com/patientflow/patientflow/internal/platform/db"
	"github.com/patientflow/patientflow/internal/platform/reporting"
	"github.com/patientflow/patientflow/migrations"
)

// withPool loads the configuration and opens a pool for one CLI command.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

// migrationFiles prefers an on-disk directory and falls back to the
// migrations compiled into the binary.
func migrationFiles(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}
	return migrations.FS
}

func unitFlag(cmd *cobra.Command, cfg *config.Config) string {
	unit, _ := cmd.Flags().GetString("unit")
	if unit == "" {
		unit = cfg.DefaultUnit
	}
	return unit
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run unit schema migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				unit := unitFlag(cmd, cfg)
				if !db.ValidUnitID(unit) {
					return fmt.Errorf("invalid unit identifier: %s", unit)
				}
				dir, _ := cmd.Flags().GetString("dir")
				if dir == "" {
					dir = cfg.MigrationsDir
				}
				schema := db.SchemaName(unit)
				fmt.Printf("Running migrations on schema: %s\n", schema)

				count, err := db.NewMigrator(pool, migrationFiles(dir)).Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("unit", "", "Clinic unit (defaults to DEFAULT_UNIT)")
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR, then the embedded set)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				unit := unitFlag(cmd, cfg)
				if !db.ValidUnitID(unit) {
					return fmt.Errorf("invalid unit identifier: %s", unit)
				}
				dir, _ := cmd.Flags().GetString("dir")
				if dir == "" {
					dir = cfg.MigrationsDir
				}
				schema := db.SchemaName(unit)
				statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("Migration status for schema: %s\n", schema)
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("unit", "", "Clinic unit (defaults to DEFAULT_UNIT)")
	statusCmd.Flags().String("dir", "", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func unitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unit",
		Short: "Manage clinic units",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <id>",
		Short: "Create a clinic unit schema and apply the migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unit := args[0]
			if !db.ValidUnitID(unit) {
				return fmt.Errorf("invalid unit identifier: %s", unit)
			}
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				fmt.Printf("Creating unit schema: %s\n", db.SchemaName(unit))
				if err := db.CreateUnitSchema(ctx, pool, unit, migrationFiles(cfg.MigrationsDir)); err != nil {
					return err
				}
				fmt.Println("Unit created successfully.")
				return nil
			})
		},
	})
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate reports",
	}

	dailyCmd := &cobra.Command{
		Use:   "daily",
		Short: "Write the daily flow spreadsheet for a service date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				logger := newLogger(cfg.Env)
				svcs, err := buildServices(cfg, pool, logger)
				if err != nil {
					return err
				}
				raw, _ := cmd.Flags().GetString("date")
				day, err := reporting.ParseDay(raw, svcs.loc, time.Now())
				if err != nil {
					return err
				}
				out, _ := cmd.Flags().GetString("out")
				if out == "" {
					out = fmt.Sprintf("patient-flow-%s.xlsx", day.Format("2006-01-02"))
				}

				var data []byte
				err = db.WithUnitConn(ctx, pool, unitFlag(cmd, cfg), func(ctx context.Context) error {
					data, err = svcs.daily.Generate(ctx, day)
					return err
				})
				if err != nil {
					return fmt.Errorf("generate report: %w", err)
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", out)
				return nil
			})
		},
	}
	dailyCmd.Flags().String("date", "", "Service date YYYY-MM-DD (defaults to today)")
	dailyCmd.Flags().String("out", "", "Output file")
	dailyCmd.Flags().String("unit", "", "Clinic unit (defaults to DEFAULT_UNIT)")
	cmd.AddCommand(dailyCmd)

	return cmd
}

func callsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Inspect call announcements",
	}

	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Print call announcements as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is not set")
			}
			client, err := announce.NewClient(cfg.RedisURL)
			if err != nil {
				return err
			}
			defer client.Close()

			pattern := announce.AllUnitsPattern
			if unit, _ := cmd.Flags().GetString("unit"); unit != "" {
				pattern = announce.Channel(unit)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			loc, err := cfg.Location()
			if err != nil {
				loc = time.UTC
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Listening on %s\n", pattern)
			return announce.Tail(ctx, client, pattern, newLogger(cfg.Env), func(ev attendance.CallEvent) {
				fmt.Fprintln(out, formatCall(ev, loc))
			})
		},
	}
	tailCmd.Flags().String("unit", "", "Only show calls for this unit")
	cmd.AddCommand(tailCmd)

	return cmd
}

func formatCall(ev attendance.CallEvent, loc *time.Location) string {
	line := fmt.Sprintf("%s [%s] %-9s %s  %s", ev.CalledAt.In(loc).Format("15:04:05"), ev.UnitID, ev.Stage, ev.Code, ev.PatientName)
	if ev.Location != "" {
		line += " -> " + ev.Location
	}
	return line
}
