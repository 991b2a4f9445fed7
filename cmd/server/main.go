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

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"habilitations/internal/backend"
	"habilitations/internal/config"
	"habilitations/internal/db"
	"habilitations/internal/logging"
	"habilitations/internal/store"
	"habilitations/internal/version"
	"habilitations/internal/web"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "habilitations",
		Short:         "Web console for agent authorizations",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newServeCmd(),
		newRoutesCmd(),
		newAuditCmd(),
		newVersionCmd(),
	)
	return root
}

// setup loads the configuration and builds the logger every command uses.
func setup() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logging: %w", err)
	}
	return cfg, logger, nil
}

func openJournal(cfg config.Config) (*store.Store, error) {
	sqdb, dialect, err := db.Open(cfg.AuditDBDriver, cfg.AuditDBDSN, db.Pool{
		MaxOpen:     cfg.DBMaxOpenConns,
		MaxIdle:     cfg.DBMaxIdleConns,
		MaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := db.ApplyMigrationFile(sqdb, cfg.AuditMigrationPath); err != nil {
		_ = sqdb.Close()
		return nil, fmt.Errorf("migration: %w", err)
	}
	return store.New(sqdb, dialect), nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the console HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			journal, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer journal.Close()

			router, err := web.NewRouter(web.Deps{
				Config:  cfg,
				Backend: backend.New(cfg),
				Journal: journal,
				Logger:  logger,
			})
			if err != nil {
				return fmt.Errorf("router: %w", err)
			}

			hsrv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           router,
				ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
				ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
				WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
				IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() {
				logger.WithFields(logrus.Fields{
					"addr":    cfg.ListenAddr,
					"backend": cfg.BackendURL,
					"version": version.Current().Version,
				}).Info("listening")
				errc <- hsrv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := hsrv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
}
