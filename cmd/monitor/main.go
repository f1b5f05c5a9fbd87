package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/SUIXIN531/Monitor/api"
	"github.com/SUIXIN531/Monitor/internal/config"
	"github.com/SUIXIN531/Monitor/internal/logging"
	"github.com/SUIXIN531/Monitor/pkg/analysis"
	"github.com/SUIXIN531/Monitor/pkg/binance"
	"github.com/SUIXIN531/Monitor/pkg/clock"
	"github.com/SUIXIN531/Monitor/pkg/eventloop"
	"github.com/SUIXIN531/Monitor/pkg/monitor"
	"github.com/SUIXIN531/Monitor/pkg/notify"
	"github.com/SUIXIN531/Monitor/pkg/store"
	"github.com/SUIXIN531/Monitor/pkg/stream"
	"github.com/SUIXIN531/Monitor/pkg/telegram"
)

var (
	version = "dev"

	cfgFile  string
	tokenTTL time.Duration
	logger   *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "spread-monitor",
		Short: "Spot/perpetual spread and volatility monitor",
		Long:  `Streams Binance spot and perpetual prices, tracks the spot/future spread and short-term volatility, and raises rate-limited alerts`,
		Run:   runMonitor,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "Issue an API bearer token signed with server.jwt_secret",
		Args:  cobra.MaximumNArgs(1),
		RunE:  issueToken,
	}
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(versionCmd, tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func issueToken(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("server.jwt_secret is not set")
	}
	subject := "operator"
	if len(args) == 1 {
		subject = args[0]
	}
	token, err := api.NewAuthenticator(cfg.Server.JWTSecret).IssueToken(subject, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) {
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Warn("Failed to load .env file")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	logger, err = logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		MaxAge: cfg.Logging.MaxAge,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	journal, err := store.New(cfg.Storage.Path, cfg.Storage.JournalBuffer, cfg.Storage.MaxAlerts, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open alert journal")
	}
	defer journal.Close()

	if saved, ok, err := journal.LoadWatchlist(ctx); err != nil {
		logger.WithError(err).Warn("Failed to load saved watch list, using configuration")
	} else if ok {
		cfg.Coins.Watchlist = saved
	}

	var sender notify.Sender = notify.NewLogSender(logger)
	var bot *telegram.Client
	if cfg.Telegram.Enabled {
		bot, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelay)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Telegram client")
		}
		sender = bot
	}

	backend, _ := notify.ParseBackend(cfg.Alerts.Backend)
	var notifier notify.Notifier
	switch backend {
	case notify.BackendScheduled:
		scheduled := notify.NewScheduled(sender, cfg.Alerts.ScheduleLead, 30*time.Second, logger)
		defer scheduled.Close()
		notifier = scheduled
	default:
		notifier = notify.NewImmediate(sender, cfg.Alerts.IconURL, logger)
	}

	var analyzer analysis.Analyzer
	if cfg.Analysis.Enabled {
		analyzer = analysis.NewGeminiClient(analysis.Config{
			APIURL:  cfg.Analysis.APIURL,
			APIKey:  cfg.Analysis.APIKey,
			Model:   cfg.Analysis.Model,
			Timeout: cfg.Analysis.Timeout,
			RPS:     cfg.Analysis.RPS,
		}, logger)
	}

	loop := eventloop.New(cfg.Stream.LoopBuffer, logger)
	connector := binance.NewWSConnector(binance.WSOptions{
		HandshakeTimeout: cfg.Stream.HandshakeTimeout,
		PingInterval:     cfg.Stream.PingInterval,
		ReadTimeout:      cfg.Stream.ReadTimeout,
	}, logger)

	engine := monitor.NewEngine(monitor.Config{
		Tracked:             cfg.Coins.Tracked,
		Watchlist:           cfg.Coins.Watchlist,
		AlertsEnabled:       cfg.Alerts.Enabled,
		SpreadThreshold:     cfg.Alerts.SpreadThreshold,
		VolatilityThreshold: cfg.Alerts.VolatilityThreshold,
		VolatilityWindow:    cfg.Alerts.VolatilityWindow,
		FlagDuration:        cfg.Alerts.FlagDuration,
		AppTitle:            cfg.Alerts.AppTitle,
		Supervisor: stream.SupervisorConfig{
			SpotURL:        cfg.Binance.SpotWsURL,
			USDMURL:        cfg.Binance.USDMWsURL,
			CoinMURL:       cfg.Binance.CoinMWsURL,
			Quote:          cfg.Binance.Quote,
			ReconnectDelay: cfg.Stream.ReconnectDelay,
			ReleaseDelay:   cfg.Stream.ReleaseDelay,
		},
		TickerFeed: stream.TickerFeedConfig{
			BaseURL:        cfg.Binance.SpotWsURL,
			Quote:          cfg.Binance.Quote,
			ReconnectDelay: cfg.Stream.ReconnectDelay,
		},
	}, monitor.Deps{
		Loop:      loop,
		Connector: connector,
		Clock:     clock.Real(),
		Prober:    stream.NewTCPProber(cfg.Stream.ReachabilityHost, 2*time.Second),
		Borrow:    binance.NewMarginClient(cfg.Binance.MarginAPIURL, cfg.Binance.Quote, cfg.Binance.BorrowRPS),
		Analyzer:  analyzer,
		Notifier:  notifier,
		Journal:   journal,
		Logger:    logger,
	})

	hub := api.NewHub(logger)
	engine.OnEvent(hub.Broadcast)

	server := api.NewServer(engine, hub, api.Options{
		Port:        cfg.Server.Port,
		JWTSecret:   cfg.Server.JWTSecret,
		ReadTimeout: cfg.Server.ReadTimeout,
	}, logger)

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	run(journal.Run)
	run(hub.Run)
	run(engine.Run)
	run(func(ctx context.Context) {
		if err := server.Run(ctx); err != nil {
			logger.WithError(err).Error("API server failed")
			cancel()
		}
	})
	if bot != nil {
		run(func(ctx context.Context) { bot.ListenForCommands(ctx, engine.StatusText) })
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Spread monitor is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
	}

	cancel()
	wg.Wait()
	logger.Info("Spread monitor stopped")
}
