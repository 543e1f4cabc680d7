package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/sessions"
	"github.com/jhchabran/agora"
	"github.com/jhchabran/agora/authentication/session_auth"
	"github.com/jhchabran/agora/cmd"
	"github.com/jhchabran/agora/metrics"
	"github.com/jhchabran/agora/sqlstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app is what every command needs once the configuration is loaded.
type app struct {
	cfg     *cmd.Config
	logger  zerolog.Logger
	store   agora.Store
	engine  *agora.Engine
	metrics *metrics.Metrics
	reg     *prometheus.Registry
}

func openApp(cfg *cmd.Config) (*app, error) {
	logger := cmd.SetupLogger(cfg)

	store, err := cmd.OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to the %s store: %w", cfg.DatabaseDriver, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine := agora.NewEngine(
		&agora.EngineConfig{MaxRetries: cfg.MaxRetries, EventBuffer: cfg.EventBuffer},
		store,
		cmd.Notifier(cfg, logger),
		logger.With().Str("component", "engine").Logger(),
		agora.WithMetrics(m),
	)

	return &app{cfg: cfg, logger: logger, store: store, engine: engine, metrics: m, reg: reg}, nil
}

func (a *app) close() {
	a.engine.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close store")
	}
}

// migrate applies the schema when the store has one.
func (a *app) migrate(ctx context.Context) error {
	s, ok := a.store.(*sqlstore.SQLStore)
	if !ok {
		a.logger.Info().Str("driver", a.cfg.DatabaseDriver).Msg("Nothing to migrate")
		return nil
	}
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	a.logger.Info().Str("driver", a.cfg.DatabaseDriver).Msg("Schema is up to date")
	return nil
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var migrate bool

	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			if err := opts.cfg.Validate(); err != nil {
				return err
			}

			a, err := openApp(opts.cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if migrate {
				if err := a.migrate(ctx); err != nil {
					return err
				}
			}

			sessionStore := sessions.NewCookieStore([]byte(a.cfg.ServerSecret))
			authService := session_auth.New(sessionStore, a.logger)

			s := agora.NewServer(
				&agora.ServerConfig{Addr: a.cfg.Addr, ShutdownTimeout: a.cfg.ShutdownTimeout},
				a.logger.With().Str("component", "http").Logger(),
				a.engine,
				authService,
				a.reg,
			)
			if err := s.Prepare(); err != nil {
				return fmt.Errorf("cannot prepare server: %w", err)
			}

			go func() {
				<-ctx.Done()
				a.logger.Info().Msg("Shutting down")
				s.Stop()
			}()

			return s.Start()
		},
	}

	c.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")
	return c
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			a, err := openApp(opts.cfg)
			if err != nil {
				return err
			}
			defer a.close()

			return a.migrate(c.Context())
		},
	}
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with sample questions, answers and votes",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			a, err := openApp(opts.cfg)
			if err != nil {
				return err
			}
			defer a.close()

			a.logger.Info().Msg("Seeding database")
			return seed(c.Context(), a.engine)
		},
	}
}

var errDrift = errors.New("scores drifted from the vote ledger")

func newVerifyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recount every score from the vote ledger and report drift",
		Long: `Recount the score of every question and comment from its votes and
print one JSON line per target whose cached score differs. Nothing is
repaired. Exits with an error when any drift is found.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			a, err := openApp(opts.cfg)
			if err != nil {
				return err
			}
			defer a.close()

			drifts, err := a.engine.Verify(c.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(c.OutOrStdout())
			for _, d := range drifts {
				if err := enc.Encode(d); err != nil {
					return err
				}
			}
			if len(drifts) > 0 {
				return fmt.Errorf("%d targets: %w", len(drifts), errDrift)
			}
			return nil
		},
	}
}
