package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/sorrel/config"
	"github.com/Ramsey-B/sorrel/internal/app"
)

type cli struct {
	cfg    *config.Config
	logger ectologger.Logger
	sync   func() error
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "sorrel",
		Short:        "Cross-company employee identity matching",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return c.init()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if c.sync != nil {
				_ = c.sync()
			}
		},
	}

	root.AddCommand(
		newServeCommand(c),
		newRunCommand(c),
		newImportCommand(c),
		newRebuildIndexCommand(c),
		newMigrateCommand(c),
	)
	return root
}

func (c *cli) init() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	zapLogger, err := newZapLogger(cfg)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = zapadapter.NewZapEctoLogger(zapLogger, nil)
	c.sync = zapLogger.Sync
	return nil
}

func newZapLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build(zap.Fields(zap.String("service", cfg.AppName)))
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withApp starts the process dependencies, runs fn and stops them again
func (c *cli) withApp(ctx context.Context, options app.Options, fn func(ctx context.Context, a *app.App) error) error {
	a := app.New(c.cfg, c.logger, options)
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.WithoutCancel(ctx))
		return err
	}
	defer func() {
		if err := a.Stop(context.WithoutCancel(ctx)); err != nil {
			c.logger.WithError(err).Error("Failed to stop cleanly")
		}
	}()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
