package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/evcraddock/pen/internal/config"
	"github.com/evcraddock/pen/internal/db"
	"github.com/evcraddock/pen/internal/events"
	"github.com/evcraddock/pen/internal/logging"
	"github.com/evcraddock/pen/internal/web"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		configFile string
		port       int
		dev        bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: "Start the pen HTTP API. Settings come from the optional TOML file, " +
			"then PEN_* environment variables (a .env file is read first), then flags.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("dev") {
				cfg.DevMode = dev
			}
			if flagDB != "" {
				cfg.DBPath = flagDB
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "TOML config file")
	cmd.Flags().IntVar(&port, "port", 8080, "port to listen on")
	cmd.Flags().BoolVar(&dev, "dev", false, "development mode (console logs at debug level)")

	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := logging.New(cfg.DevMode)
	defer func() { _ = logger.Sync() }()

	path := cfg.DBPath
	if path == "" {
		var err error
		if path, err = db.DefaultPath(); err != nil {
			return err
		}
	}
	database, err := db.Open(path)
	if err != nil {
		return err
	}
	defer closeDB(database)

	var pub events.Publisher = events.Nop{}
	if cfg.Kafka.Enabled() {
		pub = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.BatchSize)
		logger.Info("publishing comment events",
			zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warn("closing event publisher", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           web.NewServer(database, logger, pub, web.TrustProxy(cfg.TrustProxy)),
		IdleTimeout:       3 * time.Minute,
		ReadHeaderTimeout: time.Minute,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("API server started", zap.String("address", srv.Addr), zap.String("db", path))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Warn("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
