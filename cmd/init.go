package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dayuer/msgbridge-go/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write the default configuration to --config (default ~/.msgbridge/config.json).
A .yaml or .yml path is written as YAML. An existing file is kept unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	out := cmd.OutOrStdout()

	if _, err := os.Stat(path); err == nil && !initForce {
		fmt.Fprintf(out, "Config already exists at %s\n", path)
		return nil
	}
	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return fmt.Errorf("creating config: %w", err)
	}
	fmt.Fprintf(out, "✓ Created config at %s\n", path)
	return nil
}
