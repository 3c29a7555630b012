package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/diagnosis/qr-attendance/internal/admin"
	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/diagnosis/qr-attendance/internal/export"
	"github.com/diagnosis/qr-attendance/internal/repo/postgres"
	"github.com/diagnosis/qr-attendance/pkg/auth"
	"github.com/diagnosis/qr-attendance/pkg/events"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := connect(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print an argon2id hash for ADMIN_PASSWORD_HASH",
	Long:  "Hashes the given password, or a line read from stdin when none is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var pw string
		if len(args) == 1 {
			pw = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			pw = strings.TrimRight(line, "\r\n")
		}
		if pw == "" {
			return errors.New("password must not be empty")
		}
		hash, err := auth.HashPassword(pw)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List registered sites and their scan links",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := registry()
		if err != nil {
			return err
		}
		base := strings.TrimRight(cfg.Attendance.PublicBaseURL, "/")
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tLAT\tLNG\tRADIUS\tTZ\tLINK")
		for _, s := range reg.All() {
			fmt.Fprintf(tw, "%s\t%s\t%.7f\t%.7f\t%.0fm\t%s\t%s/scan?site=%s\n",
				s.ID, s.Name, s.Latitude, s.Longitude, s.RadiusMeters, s.TimeZone, base, s.ID)
		}
		return tw.Flush()
	},
}

var (
	reportStart  string
	reportEnd    string
	reportQuery  string
	reportFormat string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print daily records with hours and wage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, loc, err := loadRecords(cmd.Context(), reportStart, reportEnd, reportQuery)
		if err != nil {
			return err
		}
		return writeReport(cmd.OutOrStdout(), recs, loc, reportFormat)
	},
}

var (
	exportStart string
	exportEnd   string
	exportOut   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write daily records to an xlsx workbook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, loc, err := loadRecords(cmd.Context(), exportStart, exportEnd, "")
		if err != nil {
			return err
		}
		rng, _ := parseRange(exportStart, exportEnd, loc, time.Now())
		path := exportOut
		if path == "" {
			path = export.FileName(rng.Start, rng.End)
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := export.WriteXLSX(f, recs, loc); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records to %s\n", len(recs), path)
		return nil
	},
}

var watchSubject string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream attendance events from NATS",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.NATS.URL == "" {
			return errors.New("NATS_URL is not set")
		}
		bus, err := events.Connect(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer bus.Close()

		out := cmd.OutOrStdout()
		if err := bus.Subscribe(watchSubject, func(msg *events.Message) {
			fmt.Fprintf(out, "%s %s %s\n", msg.Timestamp.Format(time.RFC3339), msg.Subject, msg.Data)
		}); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportStart, "start", "", "First day, YYYY-MM-DD (default today)")
	reportCmd.Flags().StringVar(&reportEnd, "end", "", "Last day, YYYY-MM-DD (default --start)")
	reportCmd.Flags().StringVarP(&reportQuery, "query", "q", "", "Only users whose name contains this")
	reportCmd.Flags().StringVar(&reportFormat, "format", "table", "Output format: table, csv, json")

	exportCmd.Flags().StringVar(&exportStart, "start", "", "First day, YYYY-MM-DD (default today)")
	exportCmd.Flags().StringVar(&exportEnd, "end", "", "Last day, YYYY-MM-DD (default --start)")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Output file (default attendance_<start>_<end>.xlsx)")

	watchCmd.Flags().StringVar(&watchSubject, "subject", events.AttendanceAll, "NATS subject to subscribe to")
}

func loadRecords(ctx context.Context, start, end, q string) ([]domain.DailyRecord, *time.Location, error) {
	reg, err := registry()
	if err != nil {
		return nil, nil, err
	}
	loc := reg.DefaultLocation()
	rng, err := parseRange(start, end, loc, time.Now())
	if err != nil {
		return nil, nil, err
	}

	pool, err := connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer pool.Close()

	svc := admin.NewService(
		postgres.NewAttendanceRepo(pool, cfg.Database.QueryTimeout),
		postgres.NewUsersRepo(pool),
		reg, nil,
	)
	recs, err := svc.Records(ctx, rng, q)
	return recs, loc, err
}

func writeReport(w io.Writer, recs []domain.DailyRecord, loc *time.Location, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if recs == nil {
			recs = []domain.DailyRecord{}
		}
		return enc.Encode(recs)
	case "csv":
		fmt.Fprintln(w, "name,contact,date,in,out,work_hours,wage")
		for _, r := range recs {
			row := export.Row(r, loc)
			fmt.Fprintf(w, "%s,%s,%s,%s,%s,%d,%d\n",
				csvEscape(r.UserName), csvEscape(row[1].(string)), r.Date, row[3], row[4], r.WorkHours, r.Wage)
		}
		return nil
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DATE\tNAME\tCONTACT\tIN\tOUT\tHOURS\tWAGE")
		total := 0
		for _, r := range recs {
			row := export.Row(r, loc)
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n", r.Date, r.UserName, row[1], row[3], row[4], r.WorkHours, r.Wage)
			total += r.Wage
		}
		fmt.Fprintf(tw, "\t\t\t\t\tTOTAL\t%d\n", total)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q (want table, csv or json)", format)
	}
}

func csvEscape(s string) string {
	if strings.ContainsAny(s, ",\"\n\r") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
