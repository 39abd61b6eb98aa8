// Package main provides the entry point for the groupwatch server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve in minimal containers

	"github.com/codeGROOVE-dev/gsm"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/groupwatch/internal/bot"
	"github.com/codeGROOVE-dev/groupwatch/internal/config"
	"github.com/codeGROOVE-dev/groupwatch/internal/discord"
	"github.com/codeGROOVE-dev/groupwatch/internal/duplicate"
	"github.com/codeGROOVE-dev/groupwatch/internal/latency"
	"github.com/codeGROOVE-dev/groupwatch/internal/notify"
	"github.com/codeGROOVE-dev/groupwatch/internal/registry"
	"github.com/codeGROOVE-dev/groupwatch/internal/report"
	"github.com/codeGROOVE-dev/groupwatch/internal/state"
	"github.com/codeGROOVE-dev/groupwatch/internal/telegram"
)

const (
	serverReadTimeout  = 15 * time.Second
	serverWriteTimeout = 15 * time.Second

	cleanupInterval     = 10 * time.Minute
	reportCheckInterval = 5 * time.Minute
)

func main() {
	envErr := godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", envErr)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Warn("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	exitCode := run(ctx, cancel)
	cancel() // Ensure cleanup before exit
	os.Exit(exitCode)
}

func logLevel(s string) slog.Level {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func run(ctx context.Context, cancel context.CancelFunc) int {
	cfg, watch, err := loadConfig(ctx)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	slog.Info("configuration loaded",
		"transport", cfg.Transport,
		"store", cfg.Store,
		"has_bot_token", cfg.Token() != "",
		"has_api_signing_key", cfg.APISigningKey != "",
		"escalation_delay", watch.EscalationDelay(),
		"timezone", watch.Location().String(),
		"team_size", len(watch.Team),
		"admins", len(watch.Admins))

	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "store", cfg.Store, "error", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}()

	reg := registry.New(store, registry.Seed{
		EscalationTarget: watch.Escalation.Target,
		Responders:       watch.Team,
		Paused:           watch.Paused,
		Admins:           watch.Admins,
	}, slog.Default())
	if err := reg.Load(ctx); err != nil {
		slog.Error("failed to load registry", "error", err)
		return 1
	}
	if reg.EscalationTarget() == "" {
		slog.Warn("no escalation target yet; run /setmaingroup in the alert chat")
	}

	chat, err := newTransport(cfg)
	if err != nil {
		slog.Error("failed to create transport", "transport", cfg.Transport, "error", err)
		return 1
	}

	notifier := notify.New(chat, cfg.SendRatePerSecond, slog.Default())
	tracker := latency.New(latency.Config{
		Store:       store,
		Logger:      slog.Default(),
		Location:    watch.Location(),
		ReplyWindow: watch.ReplyWindow(),
	})

	coord := bot.NewCoordinator(bot.CoordinatorConfig{
		Notifier:           notifier,
		Registry:           reg,
		Duplicates:         duplicate.New(watch.DuplicateTTL(), slog.Default()),
		Latency:            tracker,
		Logger:             slog.Default(),
		Transport:          cfg.Transport,
		ReportAllow:        watch.Report.Allow,
		EscalationDelay:    watch.EscalationDelay(),
		ForwardEscalations: watch.ForwardEscalations(),
		ForwardDuplicates:  watch.Duplicates.ForwardOriginal,
	})
	defer coord.Stop()

	var reports *report.Sender
	if watch.MonthlyReport() {
		reports = report.NewSender(report.Config{
			Store:    store,
			Ranker:   coord,
			Notifier: notifier,
			Target:   reg.EscalationTarget,
			Location: watch.Location(),
			Logger:   slog.Default(),
		})
	}

	api := &apiServer{
		stats:   coord,
		latency: tracker,
		sends:   notifier,
		allow:   watch.Report.Allow,
		started: time.Now(),
		now:     time.Now,
	}
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(api, []byte(cfg.APISigningKey)),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start services
	eg, ctx := errgroup.WithContext(ctx)

	// HTTP server
	eg.Go(func() error {
		slog.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down HTTP server")
		// Fast shutdown for quick handoff during deployments (250ms)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), 250*time.Millisecond)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	// Chat transport
	eg.Go(func() error {
		if err := chat.Run(ctx, coord); err != nil {
			return fmt.Errorf("%s transport: %w", cfg.Transport, err)
		}
		return nil
	})

	eg.Go(func() error {
		runHousekeeping(ctx, coord, reports)
		return nil
	})

	// Wait for all services
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		cancel()
		return 1
	}

	slog.Info("shutdown complete", "stats", coord.Stats(), "sends", notifier.Stats())
	return 0
}

// runHousekeeping purges expired state and sends the monthly report when due.
// reports may be nil when the monthly report is disabled.
func runHousekeeping(ctx context.Context, coord *bot.Coordinator, reports *report.Sender) {
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	reportTicker := time.NewTicker(reportCheckInterval)
	defer reportTicker.Stop()

	checkReport := func(now time.Time) {
		if reports == nil {
			return
		}
		err := reports.Check(ctx, now)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, report.ErrNoTarget):
			slog.Debug("monthly report waiting for an escalation target")
		default:
			slog.Warn("monthly report check failed", "error", err)
		}
	}
	checkReport(time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-cleanupTicker.C:
			coord.Cleanup(now)
		case now := <-reportTicker.C:
			checkReport(now)
		}
	}
}

// newTransport connects the configured chat network.
func newTransport(cfg config.ServerConfig) (Transport, error) {
	if cfg.Transport == config.TransportDiscord {
		c, err := discord.New(cfg.DiscordBotToken, cfg.DiscordGuildID, slog.Default())
		if err != nil {
			return nil, err
		}
		return discordTransport{c}, nil
	}
	c, err := telegram.New(cfg.BotToken, slog.Default())
	if err != nil {
		return nil, err
	}
	return telegramTransport{c}, nil
}

// openStore opens the configured record store.
func openStore(ctx context.Context, cfg config.ServerConfig) (state.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return state.NewSQLiteStore(ctx, cfg.SQLitePath)
	case config.StoreDatastore:
		// Create state store using fido (CloudRun backend auto-detects environment)
		return state.NewFidoStore(ctx)
	default:
		slog.Warn("using in-memory store; settings and reply times are lost on restart")
		return state.NewMemoryStore(), nil
	}
}

func loadConfig(ctx context.Context) (config.ServerConfig, *config.WatchConfig, error) {
	// Environment variables take precedence, then Secret Manager
	getSecret := func(name string) string {
		if v := os.Getenv(name); v != "" {
			slog.Debug("using environment variable", "name", name)
			return v
		}

		value, err := gsm.Fetch(ctx, name)
		if err != nil {
			slog.Debug("secret not found in Secret Manager", "name", name, "error", err)
			return ""
		}
		if value != "" {
			slog.Info("loaded secret from Secret Manager", "name", name)
		}
		return value
	}

	cfg := config.ServerConfig{
		Transport:      getEnv("TRANSPORT", config.TransportTelegram),
		DiscordGuildID: os.Getenv("DISCORD_GUILD_ID"),
		GCPProject:     os.Getenv("GCP_PROJECT"),
		Store:          getEnv("STORE", config.StoreMemory),
		SQLitePath:     os.Getenv("SQLITE_PATH"),
		ConfigPath:     os.Getenv("CONFIG_PATH"),
		Port:           getEnv("PORT", "9119"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
	if cfg.Transport == config.TransportDiscord {
		cfg.DiscordBotToken = getSecret("DISCORD_BOT_TOKEN")
	} else {
		cfg.BotToken = getSecret("BOT_TOKEN")
	}
	cfg.APISigningKey = getSecret("API_SIGNING_KEY")

	if v := os.Getenv("SEND_RATE_PER_SECOND"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, nil, fmt.Errorf("SEND_RATE_PER_SECOND: %w", err)
		}
		cfg.SendRatePerSecond = rate
	}

	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	watch, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return cfg, nil, err
	}
	if err := watch.ApplyEnv(os.Getenv); err != nil {
		return cfg, nil, fmt.Errorf("watch configuration: %w", err)
	}

	return cfg, watch, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
