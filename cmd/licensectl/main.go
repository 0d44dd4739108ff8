// licensectl is the operator tool for the license store: issuing codes by
// hand, inspecting records and pushing a full export to Google Sheets.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"license-gate/internal/config"
	"license-gate/internal/database"
	"license-gate/internal/logging"
	"license-gate/internal/model"
	"license-gate/internal/service"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"google.golang.org/api/option"
	"gorm.io/gorm"
)

var errUsage = errors.New("usage: licensectl <issue|list|lookup|stats|migrate|export> [flags]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.NewWithWriter(os.Stderr, cfg.LogLevel, "console", "licensectl")
	return dispatch(ctx, cfg, log, args, out)
}

type command func(ctx context.Context, env *env, args []string) error

type env struct {
	cfg      *config.Config
	db       *gorm.DB
	store    *database.LicenseStore
	licenses *service.LicenseService
	sheets   *service.SheetSyncService
	log      zerolog.Logger
	out      io.Writer
}

var commands = map[string]command{
	"issue":   cmdIssue,
	"list":    cmdList,
	"lookup":  cmdLookup,
	"stats":   cmdStats,
	"migrate": cmdMigrate,
	"export":  cmdExport,
}

// dispatch runs one subcommand. sheetOpts are passed to the Sheets client when
// SHEETS_ENABLED is set.
func dispatch(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string, out io.Writer, sheetOpts ...option.ClientOption) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}

	db, err := database.Open(database.Config{URL: cfg.Database.URL, MaxOpenConns: cfg.Database.MaxOpenConns})
	if err != nil {
		return err
	}
	defer database.Close(db)

	sc := cfg.Sheets
	sheets, err := service.NewSheetSyncService(ctx, sc.Enabled, sc.CredentialPath, sc.SpreadsheetID, sc.SheetName, sheetOpts...)
	if err != nil {
		return err
	}

	store := database.NewLicenseStore(db, cfg.Database.QueryTimeout)
	opts := []service.Option{service.WithAuditor(service.NewAuditLog(db)), service.WithLogger(log)}
	if sheets != nil {
		opts = append(opts, service.WithExporter(sheets))
	}
	licenses := service.NewLicenseService(store, opts...)
	defer licenses.Wait()

	return cmd(ctx, &env{cfg: cfg, db: db, store: store, licenses: licenses, sheets: sheets, log: log, out: out}, args[1:])
}

func cmdIssue(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("issue", pflag.ContinueOnError)
	email := fs.String("email", "", "owner email address")
	count := fs.IntP("count", "n", 1, "number of codes to issue")
	meta := fs.StringToString("meta", nil, "metadata stored with each license (key=value,...)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *count < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	var metaMap map[string]interface{}
	if len(*meta) > 0 {
		metaMap = make(map[string]interface{}, len(*meta))
		for k, v := range *meta {
			metaMap[k] = v
		}
	}

	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	for i := 0; i < *count; i++ {
		issued, err := e.licenses.Issue(ctx, "licensectl", *email, metaMap)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", issued.ID, issued.Email, issued.Code)
	}
	return w.Flush()
}

func cmdList(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	limit := fs.IntP("limit", "l", database.DefaultListLimit, "maximum number of licenses")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	licenses, err := e.licenses.List(ctx, *limit)
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(e.out, licenses)
	}

	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tEMAIL\tCREATED\tREDEEMED BY")
	for i := range licenses {
		lic := &licenses[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", lic.ID, lic.Status, lic.Email, lic.CreatedAt.Format(time.RFC3339), redeemedBy(lic))
	}
	return w.Flush()
}

func cmdLookup(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("lookup", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: licensectl lookup <code>")
	}

	lic, err := e.licenses.Lookup(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if lic == nil {
		return fmt.Errorf("license not found")
	}
	return writeJSON(e.out, lic)
}

func cmdStats(ctx context.Context, e *env, args []string) error {
	stats, err := e.licenses.Statistics(ctx)
	if err != nil {
		return err
	}
	return writeJSON(e.out, struct {
		*model.LicenseStatistics
		RedemptionRate float64 `json:"redemption_rate"`
	}{stats, stats.GetRedemptionRate()})
}

func cmdMigrate(_ context.Context, e *env, _ []string) error {
	if err := database.Migrate(e.db); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "schema up to date")
	return nil
}

func cmdExport(ctx context.Context, e *env, _ []string) error {
	if e.sheets == nil {
		return fmt.Errorf("sheet export disabled, set SHEETS_ENABLED=true")
	}
	licenses, err := e.store.All(ctx)
	if err != nil {
		return err
	}
	if err := e.sheets.ReplaceAll(ctx, licenses); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "exported %d licenses\n", len(licenses))
	return nil
}

func redeemedBy(lic *model.License) string {
	if lic.RedeemedIdentity == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *lic.RedeemedIdentity)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
