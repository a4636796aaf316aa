package cli

import (
	"context"
	"fmt"

	"github.com/harun/concierge/internal/config"
	"github.com/harun/concierge/internal/daemon"
	"github.com/harun/concierge/internal/logger"
	"github.com/spf13/cobra"
)

// newDaemon is swapped in tests to inject a scripted model provider.
var newDaemon = func(ctx context.Context, cfg *config.Config, log *logger.Logger) (*daemon.Daemon, error) {
	return daemon.New(ctx, cfg, log)
}

// loadConfig loads the config file, environment and tenant file named by the
// global flags.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoader(cfgFile)
	if tenantFile != "" {
		loader = loader.WithTenant(tenantFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
}

// openDaemon loads and validates the config and builds a daemon. Interactive
// commands pass quiet to keep info logs off the terminal unless --log-level
// is given.
func openDaemon(cmd *cobra.Command, quiet bool) (*daemon.Daemon, *logger.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if quiet && !rootCmd.PersistentFlags().Changed("log-level") {
		switch cfg.Logging.Level {
		case "", "debug", "info":
			cfg.Logging.Level = "warn"
		}
	}

	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	d, err := newDaemon(commandContext(cmd), cfg, log)
	if err != nil {
		_ = log.Close()
		return nil, nil, err
	}
	return d, log, nil
}

func closeDaemon(d *daemon.Daemon, log *logger.Logger) {
	if err := d.Close(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Shutdown finished with errors")
	}
	_ = log.Close()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
