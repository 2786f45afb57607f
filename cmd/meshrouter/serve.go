package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrouter/internal/config"
	"github.com/rmacdonaldsmith/meshrouter/internal/logging"
	"github.com/rmacdonaldsmith/meshrouter/internal/node"
)

const stopTimeout = 30 * time.Second

type serveFlags struct {
	configPath string
	nodeID     string
	noAuth     bool
}

func newServeCommand() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a router node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to the config file (default: search for meshrouter.yaml)")
	cmd.Flags().StringVar(&flags.nodeID, "node-id", "", "Override node_id from the config")
	cmd.Flags().BoolVar(&flags.noAuth, "no-auth", false, "Disable admin API authentication (development only)")
	return cmd
}

func runServe(ctx context.Context, flags serveFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app := fx.New(appOptions(flags)...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case <-signals:
	case <-ctx.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	return app.Stop(stopCtx)
}

// appOptions wires config, logging and the node into an fx application
func appOptions(flags serveFlags) []fx.Option {
	return []fx.Option{
		fx.Supply(flags),
		fx.Provide(
			loadConfig,
			newLogger,
			newNode,
		),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
		fx.Invoke(func(*node.Node) {}),
	}
}

func loadConfig(flags serveFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.nodeID != "" {
		cfg.NodeID = flags.nodeID
	}
	if flags.noAuth {
		cfg.Admin.NoAuth = true
	}
	return cfg, cfg.Validate()
}

func newLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	restore := logging.Install(logger)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = logger.Sync()
			restore()
			return nil
		},
	})
	return logger, nil
}

func newNode(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*node.Node, error) {
	n, err := node.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting "+appName,
				zap.String("version", appVersion),
				zap.String("node_id", cfg.NodeID))
			return n.Start(ctx)
		},
		OnStop: func(context.Context) error {
			return n.Close()
		},
	})
	return n, nil
}
