package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SemanticWebLanguageServer/swls-web/internal/config"
	"github.com/SemanticWebLanguageServer/swls-web/internal/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "swls",
	Short: "Semantic web language server for message-passing hosts",
	Long: `swls runs the semantic web language server behind a message-passing
transport: as a WebSocket bridge that browser editors connect to, or over
stdio for ordinary editor integrations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo records build information for `swls version` and the
// initialize result.
func SetVersionInfo(v, c, t string) {
	version, commit, buildTime = v, c, t
	server.Version = v
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, t)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
	rootCmd.AddCommand(serveCmd, stdioCmd, versionCmd)
}

// loadConfig returns the file config or the defaults when no path is set.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	applyFlags(cfg)
	return cfg, nil
}

func applyFlags(cfg *config.Config) {
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}
