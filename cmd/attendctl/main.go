// Command attendctl is the operator CLI for the attendance service: schema
// migration, admin password hashing, site listing, reports and exports.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/diagnosis/qr-attendance/internal/sites"
	"github.com/diagnosis/qr-attendance/pkg/config"
	"github.com/diagnosis/qr-attendance/pkg/database"
	"github.com/diagnosis/qr-attendance/pkg/logger"
)

var (
	envFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "attendctl",
	Short: "Operate the QR attendance service",
	Long: `attendctl talks to the attendance database directly. It reads the
same environment (DATABASE_URL, SITES_JSON, ATTENDANCE_TIME_ZONE, ...) as
the API server, optionally from a .env file.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadDotEnv(envFile)
		cfg = config.Load()
		logger.SetDefault(logger.New(os.Stderr, os.Getenv("LOG_LEVEL") == "debug"))
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to a .env file")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(sitesCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(watchCmd)
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, nil
}

func registry() (*sites.Registry, error) {
	return sites.FromJSON(cfg.Attendance.TimeZone, cfg.Attendance.SitesJSON)
}

// parseRange reads YYYY-MM-DD flags in loc. An empty start means today and
// an empty end means start.
func parseRange(start, end string, loc *time.Location, now time.Time) (domain.DateRange, error) {
	today := now.In(loc)
	rng := domain.DateRange{Start: today, End: today, Location: loc}
	if start != "" {
		t, err := time.ParseInLocation("2006-01-02", start, loc)
		if err != nil {
			return rng, fmt.Errorf("--start: %w", err)
		}
		rng.Start, rng.End = t, t
	}
	if end != "" {
		t, err := time.ParseInLocation("2006-01-02", end, loc)
		if err != nil {
			return rng, fmt.Errorf("--end: %w", err)
		}
		rng.End = t
	}
	return rng, nil
}
