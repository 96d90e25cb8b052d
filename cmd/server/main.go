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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tableside/api/internal/auth"
	"github.com/tableside/api/internal/blob"
	"github.com/tableside/api/internal/catalog"
	"github.com/tableside/api/internal/config"
	"github.com/tableside/api/internal/database"
	"github.com/tableside/api/internal/events"
	"github.com/tableside/api/internal/lifecycle"
	"github.com/tableside/api/internal/logging"
	"github.com/tableside/api/internal/realtime"
	"github.com/tableside/api/internal/router"
	"github.com/tableside/api/internal/service"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Tableside ordering API",
		// Running the binary without a subcommand serves the API.
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
		SilenceUsage: true,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	})
	cmd.AddCommand(migrateCmd())
	return cmd
}

func migrateCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Setup(cfg.LogLevel, cfg.LogFormat)

			if err := database.Migrate(cfg.DatabaseURL, steps); err != nil {
				return err
			}
			version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("migrations applied")
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "Migrate by N steps (negative rolls back); 0 applies all pending")
	return cmd
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("unable to ping database: %w", err)
	}
	logrus.Info("connected to database")

	queries := database.New(pool)
	orders := service.NewOrderService(pool, pool, func(db database.DBTX) service.OrderStore {
		return database.New(db)
	})

	publisher, err := events.Open(cfg.EventsDriver, cfg.AMQPURL, cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("open event publisher: %w", err)
	}
	defer publisher.Close()

	hub := realtime.NewHub()
	listener := realtime.NewListener(cfg.DatabaseURL, hub)

	resolver := auth.NewResolver(queries, cfg.BootstrapOwners, cfg.RoleLookupTimeout)
	authSvc := auth.NewService(queries, cfg.JWTSecret, resolver, auth.LogMailer{})

	engine := lifecycle.NewEngine(orders, resolver,
		lifecycle.WithPublisher(publisher),
		lifecycle.WithFeed(hub),
	)

	cache := catalog.New(queries, catalog.Options{})

	storage, err := blob.NewLocal(cfg.StorageDir, cfg.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	r := router.New(router.Deps{
		Config:   cfg,
		Queries:  queries,
		Orders:   orders,
		Engine:   engine,
		Auth:     authSvc,
		Resolver: resolver,
		Catalog:  cache,
		Feed:     hub,
		Storage:  storage,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		listener.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := cache.Refresh(ctx); err != nil {
			// Partial loads keep the collections that succeeded.
			logrus.WithError(err).Warn("initial catalog refresh incomplete")
		}
		unsubscribe, err := cache.Subscribe(ctx, hub)
		if err != nil {
			return fmt.Errorf("subscribe catalog: %w", err)
		}
		<-ctx.Done()
		unsubscribe()
		return nil
	})
	g.Go(func() error {
		return config.Watch(ctx, *cfg, func(next *config.Config) {
			resolver.SetBootstrapOwners(next.BootstrapOwners)
			logging.Setup(next.LogLevel, next.LogFormat)
		})
	})
	g.Go(func() error {
		logrus.WithField("port", cfg.Port).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logrus.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
