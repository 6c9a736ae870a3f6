package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/audit"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/catalog"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/config"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/db"
	ledgerHttp "github.com/vasiliy-maslov/omnichannel-ledger/internal/handler/http"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/ledger"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/metrics"
)

const requestTimeout = 30 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return serve(cfg, skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations on startup")
	return cmd
}

func serve(cfg *config.Config, skipMigrations bool) error {
	log.Info().Str("version", version).Msg("Order ledger starting...")
	log.Debug().Str("broker", cfg.Events.Broker).Dur("cache_ttl", cfg.Catalog.CacheTTL).Msg("Configuration loaded")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if !skipMigrations {
		if err := db.MigrateUp(cfg.Postgres.MigrateURL()); err != nil {
			return err
		}
	}

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pg.Close()

	catalogRepository := catalog.NewRepository(pg.SQL)
	catalogCache := catalog.NewCache(catalogRepository, cfg.Catalog.CacheTTL)
	catalogCache.Start()
	defer catalogCache.Stop()

	registry := metrics.NewRegistry()
	ledgerService := ledger.NewService(
		ledger.NewRepository(pg.Pool),
		catalogCache,
		catalogCache,
		ledger.WithRecorder(registry.NewLedgerMetrics()),
	)

	relayDone, err := startRelay(ctx, cfg.Events, audit.NewOutbox(pg.SQL))
	if err != nil {
		return err
	}

	router := ledgerHttp.NewRouter(ledgerHttp.RouterConfig{
		Handlers: []ledgerHttp.RouteRegistrar{
			ledgerHttp.NewOrderHandler(ledgerService),
			ledgerHttp.NewCatalogHandler(catalogCache, catalogRepository),
			ledgerHttp.NewEventsHandler(audit.NewRepository(pg.SQL)),
		},
		Metrics:        registry.NewServerMetrics(),
		MetricsHandler: registry.Handler(),
		DB:             pg,
		RequestTimeout: requestTimeout,
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down server...")
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
		stop()
		<-relayDone
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	stop()
	<-relayDone

	log.Info().Msg("Order ledger stopped gracefully.")
	return nil
}

// startRelay runs the outbox relay for the configured broker. The returned
// channel is closed once the relay has stopped and its publisher is closed.
func startRelay(ctx context.Context, cfg config.EventsConfig, outbox *audit.Outbox) (<-chan struct{}, error) {
	done := make(chan struct{})

	var pub audit.Publisher
	switch cfg.Broker {
	case config.BrokerKafka:
		pub = audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	case config.BrokerNATS:
		natsPub, err := audit.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return nil, err
		}
		pub = natsPub
	default:
		log.Info().Msg("Event broker disabled, events stay in the audit log only")
		close(done)
		return done, nil
	}

	relay := audit.NewRelay(outbox, pub, cfg.RelayInterval, cfg.RelayBatch)
	go func() {
		defer close(done)
		relay.Run(ctx)
		if err := pub.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close event publisher")
		}
	}()

	return done, nil
}
