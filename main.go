// Command hyperflow streams live trades for one coin from the Hyperliquid
// websocket API, keeps the connection healthy across drops, and exposes a
// monitoring surface for operators.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"hyperflow/config"
	"hyperflow/internal/display"
	"hyperflow/internal/events"
	"hyperflow/internal/integrity"
	"hyperflow/internal/metrics"
	"hyperflow/internal/monitor"
	"hyperflow/internal/reconnect"
	"hyperflow/internal/session"
	"hyperflow/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "hyperflow:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var (
		configPath     = flag.String("config", "", "path to YAML config file")
		coin           = flag.String("coin", "", "coin to monitor (default BTC)")
		url            = flag.String("url", "", "websocket endpoint URL")
		timeout        = flag.Duration("timeout", 0, "connection timeout")
		reconnectDelay = flag.Duration("reconnect-delay", 0, "delay between reconnection attempts")
		maxReconnects  = flag.Int("max-reconnects", -1, "maximum reconnection attempts, 0 for unlimited")
		healthInterval = flag.Duration("health-check-interval", 0, "health check interval, 0 to disable")
		format         = flag.String("format", "", "output format: table, csv, json, minimal")
		noColor        = flag.Bool("no-color", false, "disable colored output")
		quiet          = flag.Bool("quiet", false, "suppress status lines, show trades only")
		priceOnly      = flag.Bool("price-only", false, "print only trade prices")
		csvExport      = flag.Bool("csv-export", false, "export trades to a CSV file")
		verboseTrades  = flag.Bool("verbose-trades", false, "include trade id and hash in output")
		maxTrades      = flag.Uint64("max-trades", 0, "stop after this many trades, 0 for unlimited")
		monitorAddr    = flag.String("monitor-addr", "", "monitor server listen address")
		enableMonitor  = flag.Bool("monitor", false, "enable the HTTP monitor server")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	// Flags win over file and environment.
	if *coin != "" {
		cfg.Subscription.Coin = *coin
	}
	if *url != "" {
		cfg.WebSocket.URL = *url
	}
	if *timeout > 0 {
		cfg.WebSocket.ConnectTimeout = config.Duration(*timeout)
	}
	if *reconnectDelay > 0 {
		cfg.WebSocket.ReconnectDelay = config.Duration(*reconnectDelay)
	}
	if *maxReconnects >= 0 {
		cfg.WebSocket.MaxReconnects = *maxReconnects
	}
	if *healthInterval > 0 {
		cfg.Health.CheckInterval = config.Duration(*healthInterval)
	}
	if *format != "" {
		cfg.Display.Format = *format
	}
	if *noColor {
		cfg.Display.NoColor = true
	}
	if *quiet {
		cfg.Display.Quiet = true
	}
	if *priceOnly {
		cfg.Display.PriceOnly = true
	}
	if *csvExport {
		cfg.Display.CSVExport = true
	}
	if *verboseTrades {
		cfg.Display.VerboseTrades = true
	}
	if *maxTrades > 0 {
		cfg.Display.MaxTrades = *maxTrades
	}
	if *monitorAddr != "" {
		cfg.Monitor.Address = *monitorAddr
		cfg.Monitor.Enabled = true
	}
	if *enableMonitor {
		cfg.Monitor.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.GetLogger()
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return err
	}

	if cfg.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.CloudWatch.Region, cfg.CloudWatch.Namespace)
	}

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.StartReport(ctx, log, time.Minute)

	log.WithComponent("main").WithFields(logger.Fields{
		"coin":   cfg.Subscription.Coin,
		"type":   cfg.Subscription.Type,
		"url":    cfg.WebSocket.URL,
		"format": cfg.Display.Format,
	}).Info("starting hyperflow")

	bus := events.NewBus(cfg.Channels.EventBuffer)
	tracker := integrity.NewTracker()
	controller := reconnect.NewController(buildPolicy(cfg), cfg.WebSocket.MaxReconnects)
	sess := session.New(cfg, session.WebSocketTransport{}, bus, tracker, controller)

	consumer := display.NewConsumer(cfg.Display, os.Stdout, stop)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Run(context.Background(), bus.Events())
	}()

	if cfg.Monitor.Enabled {
		srv := monitor.NewServer(cfg.Monitor, sess, tracker, bus)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.WithComponent("main").WithError(err).Error("monitor server failed")
			}
		}()
	}

	runErr := sess.Run(ctx)

	// The session has stopped publishing; closing the bus lets the consumer
	// drain the tail and exit.
	bus.Close()
	<-consumerDone

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	log.WithComponent("main").Info("hyperflow stopped")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.DefaultConfig()
		config.ApplyEnvOverrides(cfg)
		return cfg, nil
	}
	return config.LoadConfig(path)
}

func buildPolicy(cfg *config.Config) reconnect.Policy {
	b := cfg.WebSocket.Backoff
	if b.Enabled {
		return reconnect.NewExponential(b.MinDelay.Std(), b.MaxDelay.Std(), b.Factor)
	}
	return reconnect.FixedDelay{D: cfg.WebSocket.ReconnectDelay.Std()}
}
