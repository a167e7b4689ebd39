package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"traderbird-core/internal/api"
	"traderbird-core/internal/bot"
	"traderbird-core/internal/events"
	"traderbird-core/internal/order"
	"traderbird-core/internal/stream"
	"traderbird-core/pkg/config"
	"traderbird-core/pkg/db"
	"traderbird-core/pkg/exchanges/binance"
	"traderbird-core/pkg/twitter"
)

const version = "1.0.0"

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("LOG_LEVEL") == "debug" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load failed")
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logrus.WithError(err).Fatal("database open failed")
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		logrus.WithError(err).Fatal("migrations failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway := binance.New(binance.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	})
	gateway.StartTimeSync(ctx)

	// Lot-size rules are static enough to fetch once per process.
	rules, err := gateway.LoadInstrumentRules(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("instrument rules load failed")
	}
	logrus.WithField("symbols", len(rules)).Info("instrument rules loaded")

	bus := events.NewBus()
	executor := order.NewExecutor(database, gateway, rules)
	transport := stream.NewTwitterTransport(twitter.NewClient(twitter.Config{
		BearerToken: cfg.TwitterBearerToken,
		APIBase:     cfg.TwitterAPIBase,
		StreamURL:   cfg.TwitterStreamURL,
	}))

	registry := bot.NewRegistry(database, transport, executor, bus, gateway, cfg)

	if cfg.SeedPath != "" {
		if err := seedChannels(ctx, database, transport, cfg); err != nil {
			logrus.WithError(err).Fatal("seeding failed")
		}
	}

	if err := registry.Boot(ctx); err != nil {
		logrus.WithError(err).Fatal("registry boot failed")
	}
	defer registry.Shutdown()

	server := api.NewServer(registry, bus, database, api.SystemMeta{
		Venue:   "binance",
		Testnet: cfg.BinanceTestnet,
		Version: version,
	})

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("port", cfg.Port).Info("api listening")
		errCh <- server.Start(":" + cfg.Port)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logrus.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		logrus.WithError(err).Error("api server stopped")
	}
}

// seedChannels upserts channels, follows and keywords from the YAML seed
// file. Seeding is idempotent; rerunning with the same file changes nothing.
func seedChannels(ctx context.Context, database *db.Database, transport stream.Transport, cfg *config.Config) error {
	seeds, err := config.LoadSeed(cfg.SeedPath)
	if err != nil {
		return err
	}
	for _, seed := range seeds {
		size := seed.BuySize
		if size <= 0 {
			size = cfg.DefaultBuySize
		}
		quote := seed.BuyQuote
		if quote == "" {
			quote = cfg.DefaultQuote
		}
		ch, err := database.FindOrCreateChannel(ctx, seed.ChatID, size, quote)
		if err != nil {
			return err
		}
		for _, kw := range seed.Filters {
			f, err := database.FindOrCreateFilter(ctx, kw)
			if err != nil {
				return err
			}
			if err := database.AddChannelFilter(ctx, ch.ID, f.ID); err != nil {
				return err
			}
		}
		for _, name := range seed.Accounts {
			user, err := transport.LookupUser(ctx, name)
			if err != nil {
				// A bad seed entry should not block the rest of boot.
				logrus.WithError(err).WithField("account", name).Warn("seed lookup failed, skipping")
				continue
			}
			a, err := database.FindOrCreateAccount(ctx, user.ScreenName, user.ID)
			if err != nil {
				return err
			}
			if err := database.AddChannelAccount(ctx, ch.ID, a.ID); err != nil {
				return err
			}
		}
		logrus.WithFields(logrus.Fields{
			"channel":  seed.ChatID,
			"accounts": len(seed.Accounts),
			"filters":  len(seed.Filters),
		}).Info("channel seeded")
	}
	return nil
}
