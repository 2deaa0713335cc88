package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/livecast/overlay-delivery-service/config"
	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"
)

const (
	ServiceName      = "overlay-delivery-service"
	ServiceNamespace = "livecast"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Livestream overlay event delivery: hub server and viewer client",
		Version: fmt.Sprintf("%s (%s@%s, %s)", version, branch, commit, commitDate),
		Commands: []*cli.Command{
			serverCmd(),
			viewerCmd(),
			emitCmd(),
		},
	}

	return app.Run(os.Args)
}

// parseFlags hands raw command arguments to the pflag set so flag names can
// mirror config keys (log.level, viewer.stream_id, ...).
func parseFlags(c *cli.Context, fs *pflag.FlagSet) (*config.Loader, *config.Config, error) {
	if err := fs.Parse(c.Args().Slice()); err != nil {
		return nil, nil, err
	}
	file, _ := fs.GetString("config_file")

	loader, err := config.NewLoader(file, fs)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:            "server",
		Aliases:         []string{"s"},
		Usage:           "Run the overlay hub (WebSocket, long-poll and REST)",
		SkipFlagParsing: true,
		Action: func(c *cli.Context) error {
			loader, cfg, err := parseFlags(c, config.NewFlagSet("server"))
			if err != nil {
				return err
			}

			logger, level, err := NewLogger(cfg.Log, os.Stdout)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			resolveNodeID(cfg)

			loader.Watch(logger, func(next *config.Config) {
				setLevel(level, next.Log.Level)
			})

			app := NewApp(cfg, logger)
			if err := app.Start(c.Context); err != nil {
				return err
			}
			logger.Info("[SERVER] started",
				"version", version,
				"node_id", cfg.Server.NodeID,
				"addr", cfg.Server.Addr,
				"bus", cfg.Bus.Driver)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			logger.Info("Shutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return app.Stop(ctx)
		},
	}
}
