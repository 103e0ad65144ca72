package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dayuer/msgbridge-go/internal/config"
	"github.com/dayuer/msgbridge-go/internal/logging"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath string
	logLevel   string
	logJSON    bool

	// appCfg is loaded by the root PersistentPreRunE before any subcommand runs.
	appCfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "msgbridge",
	Short: "msgbridge: request/response messaging over a broadcast channel",
	Long: `msgbridge pairs peers on a shared broadcast channel (WebSocket relay, Redis
Pub/Sub or an in-process bus) and lets each side invoke named actions on the other.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.msgbridge/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace|debug|info|warn|error|off")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit JSON log lines")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-json") {
		loaded.Log.JSON = logJSON
	}
	logging.Configure(loaded.Log)
	appCfg = loaded
	return nil
}
