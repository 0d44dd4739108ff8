package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"license-gate/internal/bot"
	"license-gate/internal/config"
	"license-gate/internal/database"
	"license-gate/internal/game"
	"license-gate/internal/handler"
	"license-gate/internal/logging"
	"license-gate/internal/service"
	"license-gate/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, "riddle-bot")
	if err := cfg.RequireBot(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	script, err := game.Load(cfg.Game.ScriptPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Game.ScriptPath).Msg("load game script")
	}

	db, err := database.Open(database.Config{URL: cfg.Database.URL, MaxOpenConns: cfg.Database.MaxOpenConns})
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer database.Close(db)
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	opts := []service.Option{service.WithAuditor(service.NewAuditLog(db)), service.WithLogger(log)}
	sheets, err := service.NewSheetSyncService(ctx, cfg.Sheets.Enabled, cfg.Sheets.CredentialPath, cfg.Sheets.SpreadsheetID, cfg.Sheets.SheetName)
	if err != nil {
		log.Fatal().Err(err).Msg("init sheet export")
	}
	if sheets != nil {
		opts = append(opts, service.WithExporter(sheets))
		log.Info().Str("spreadsheet", cfg.Sheets.SpreadsheetID).Msg("sheet export enabled")
	}

	licenses := service.NewLicenseService(database.NewLicenseStore(db, cfg.Database.QueryTimeout), opts...)
	defer licenses.Wait()

	sessions, err := openSessions(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open session store")
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("init telegram bot")
	}
	log.Info().Str("username", api.Self.UserName).Msg("telegram bot authorized")

	h, err := bot.NewHandler(api, licenses, sessions, script, cfg.Game.AssetDir, cfg.Telegram.AdminID, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init bot handler")
	}

	if cfg.Telegram.PublicURL == "" {
		poll(ctx, api, h, log)
		return
	}
	if err := serveWebhook(ctx, cfg, api, h, log); err != nil {
		log.Error().Err(err).Msg("webhook server")
	}
}

func openSessions(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (session.Store, error) {
	if cfg.URL == "" {
		log.Info().Msg("chat sessions kept in memory")
		return session.NewMemoryStore(cfg.SessionTTL), nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := session.NewRedisClient(pingCtx, cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("chat sessions kept in redis")
	return session.NewRedisStore(client, cfg.SessionTTL), nil
}

func poll(ctx context.Context, api *tgbotapi.BotAPI, h *bot.Handler, log zerolog.Logger) {
	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		log.Warn().Err(err).Msg("delete webhook")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)

	log.Info().Msg("long polling for updates")
	h.Run(ctx, updates)
	api.StopReceivingUpdates()
}

func serveWebhook(ctx context.Context, cfg *config.Config, api *tgbotapi.BotAPI, h *bot.Handler, log zerolog.Logger) error {
	path := handler.WebhookPath(cfg.Telegram.Token)

	wh, err := tgbotapi.NewWebhook(cfg.Telegram.PublicURL + path)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	wh.DropPendingUpdates = true
	if _, err := api.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	app := handler.NewApp(log)
	handler.RegisterWebhook(app, path, h, log)

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info().Str("addr", addr).Msg("webhook listening")
	return app.Listen(addr)
}
