package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"license-gate/internal/config"
	"license-gate/internal/database"
	"license-gate/internal/handler"
	"license-gate/internal/logging"
	"license-gate/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, "license-server")
	if err := cfg.RequireServer(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(database.Config{URL: cfg.Database.URL, MaxOpenConns: cfg.Database.MaxOpenConns})
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer database.Close(db)
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	audit := service.NewAuditLog(db)
	opts := []service.Option{service.WithAuditor(audit), service.WithLogger(log)}

	sheets, err := service.NewSheetSyncService(ctx, cfg.Sheets.Enabled, cfg.Sheets.CredentialPath, cfg.Sheets.SpreadsheetID, cfg.Sheets.SheetName)
	if err != nil {
		log.Fatal().Err(err).Msg("init sheet export")
	}
	if sheets != nil {
		opts = append(opts, service.WithExporter(sheets))
		log.Info().Str("spreadsheet", cfg.Sheets.SpreadsheetID).Msg("sheet export enabled")
	}

	licenses := service.NewLicenseService(database.NewLicenseStore(db, cfg.Database.QueryTimeout), opts...)

	app := handler.NewApp(log)
	handler.New(licenses, audit, log).Register(app, cfg.Admin.APIKey)

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info().Str("addr", addr).Msg("license service listening")
	if err := app.Listen(addr); err != nil {
		log.Error().Err(err).Msg("listen")
	}

	licenses.Wait()
}
