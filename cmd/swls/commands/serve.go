package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SemanticWebLanguageServer/swls-web/internal/config"
	"github.com/SemanticWebLanguageServer/swls-web/internal/logging"
	"github.com/SemanticWebLanguageServer/swls-web/internal/transport/wsbridge"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve language server sessions over WebSocket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "override server.listen")
}

func runServe(ctx context.Context) error {
	cfg, reloader, err := serveConfig()
	if err != nil {
		return err
	}
	if reloader != nil {
		defer reloader.Close()
	}

	log := logging.New(cfg.Logging)
	if reloader != nil {
		reloader.Watch(func(old, next *config.Config) {
			if logLevel == "" && old.Logging.Level != next.Logging.Level {
				logging.SetLevel(next.Logging.Level)
				log.Info().Str("level", next.Logging.Level).Msg("log level changed")
			}
			if old.Queues != next.Queues || old.Frame != next.Frame || old.Server.MaxSessions != next.Server.MaxSessions {
				log.Warn().Msg("queue, frame and session limits apply after restart")
			}
		})
	}

	srv := wsbridge.New(cfg, log)
	if err := srv.Listen(); err != nil {
		return err
	}
	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info().Msg("bridge stopped")
	return nil
}

// serveConfig loads the config file through the reloader when one is given
// so edits to it are picked up while serving.
func serveConfig() (*config.Config, *config.ReloadableConfig, error) {
	var reloader *config.ReloadableConfig
	var cfg *config.Config
	if configPath != "" {
		r, err := config.NewReloadable(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		reloader = r
		copied := *r.Get()
		cfg = &copied
	} else {
		cfg = config.Default()
	}
	applyFlags(cfg)
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	return cfg, reloader, nil
}
