// Package homiecards serves Home Assistant dashboard cards for the
// Homie Scheduler integration: boiler status, timed-run buttons and
// schedule slot editors, rendered server-side and kept live over SSE.
package homiecards

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kradalby/kra/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/homie-scheduler/homie-cards/cards"
	appconfig "github.com/homie-scheduler/homie-cards/config"
	"github.com/homie-scheduler/homie-cards/events"
	"github.com/homie-scheduler/homie-cards/hass"
	"github.com/homie-scheduler/homie-cards/logging"
	"github.com/homie-scheduler/homie-cards/metrics"
)

var version = "dev"

// Main is the entry point used by cmd/homie-cards.
func Main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := appconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	slog.Info("Starting homie-cards",
		"version", version,
		"log_level", cfg.LogLevel,
		"log_format", cfg.LogFormat,
	)

	slog.Info("Configuration loaded",
		"ha_url", cfg.HomeAssistantURL,
		"web_addr", cfg.WebAddrPort().String(),
		"cards_config", cfg.CardsConfigPath,
	)

	cardCfg, err := cards.LoadConfig(cfg.CardsConfigPath)
	if err != nil {
		slog.Error("Failed to load cards configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Loaded cards", "count", len(cardCfg.Cards))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eventBus, err := events.New(logger)
	if err != nil {
		slog.Error("Failed to initialize eventbus", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			slog.Warn("Error closing eventbus", "error", err)
		}
	}()

	// Initialize metrics collector
	metricsCollector, err := metrics.NewCollector(ctx, logger, eventBus, nil)
	if err != nil {
		slog.Error("Failed to initialize metrics collector", "error", err)
		os.Exit(1)
	}
	defer metricsCollector.Close()

	api := hass.NewClient(cfg.HomeAssistantURL, cfg.HomeAssistantToken)

	cardManager, err := cards.NewManager(cardCfg.Cards, api, eventBus, logger)
	if err != nil {
		slog.Error("Failed to initialize card manager", "error", err)
		os.Exit(1)
	}
	defer cardManager.Close()

	if err := cardManager.Prime(ctx); err != nil {
		// The websocket reconnect loop re-primes once Home
		// Assistant is reachable.
		slog.Warn("Initial state fetch failed, continuing", "error", err)
	}

	pump, err := NewStatePump(eventBus, cardManager, logger)
	if err != nil {
		slog.Error("Failed to initialize state pump", "error", err)
		os.Exit(1)
	}

	socket := hass.NewSocket(cfg.HomeAssistantURL, cfg.HomeAssistantToken, logger, pump.HandleChange, pump.HandleConnect)
	go socket.Run(ctx)

	go cardManager.RunTicker(ctx)

	kraOpts := []web.Option{
		web.WithStdLogger(log.New(os.Stdout, "kraweb: ", log.LstdFlags)),
		web.WithLogger(logger),
		web.WithTailscaleStateDir(cfg.TailscaleStateDir),
	}

	enableTailscale := cfg.TailscaleAuthKey != ""
	kraConfig := web.ServerConfig{
		Hostname:        cfg.TailscaleHostname,
		LocalAddr:       cfg.WebAddrPort().String(),
		AuthKey:         cfg.TailscaleAuthKey,
		EnableTailscale: enableTailscale,
	}

	kraWeb, err := web.NewServer(kraConfig, kraOpts...)
	if err != nil {
		slog.Error("Failed to configure web server", "error", err)
		os.Exit(1)
	}

	webServer := NewWebServer(logger, cardManager, eventBus, kraWeb)
	webServer.LogEvent("Server starting...")
	webServer.Start(ctx)
	defer webServer.Close()

	kraWeb.Handle("/", http.HandlerFunc(webServer.HandleIndex))
	kraWeb.Handle("/card/", http.HandlerFunc(webServer.HandleCard))
	kraWeb.Handle("/toggle/", http.HandlerFunc(webServer.HandleToggle))
	kraWeb.Handle("/run/", http.HandlerFunc(webServer.HandleRun))
	kraWeb.Handle("/slots/", http.HandlerFunc(webServer.HandleSlots))
	kraWeb.Handle("/events", http.HandlerFunc(webServer.HandleSSE))
	kraWeb.Handle("/health", http.HandlerFunc(webServer.HandleHealth))
	kraWeb.Handle("/debug/eventbus", http.HandlerFunc(webServer.HandleEventBusDebug))
	kraWeb.Handle("/metrics", promhttp.Handler())

	// Setup debug handlers
	SetupDebugHandlers(kraWeb, cardManager)

	webURL := fmt.Sprintf("http://%s", cfg.WebAddrPort().String())
	if enableTailscale {
		webURL = fmt.Sprintf("https://%s (and http://%s)", cfg.TailscaleHostname, cfg.WebAddrPort().String())
	}
	slog.Info("Web UI available", "url", webURL)

	slog.Info("Server running, press Ctrl+C to stop")
	<-ctx.Done()
	slog.Info("Shutting down...")

	slog.Info("Stopping web server...")
	slog.Info("Shutdown complete")
}
