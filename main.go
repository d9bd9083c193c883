package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ranlab/rtcore/commands"
	"github.com/ranlab/rtcore/config"
	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"
)

var (
	version = "0.3.0"
	rootCmd = &cobra.Command{
		Use:          "rtcore",
		Short:        "rtcore - real-time core for a 5G RAN",
		SilenceUsage: true,
	}

	debugCmd = &cobra.Command{
		Use:   "debug",
		Short: "Print debug information like config paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()

			configDir, err := config.GetConfigDir()
			if err != nil {
				return fmt.Errorf("failed to get config directory: %w", err)
			}
			configJson, err := sonnet.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}

			fmt.Printf("Config: %s\n%s\n", filepath.Join(configDir, config.ConfigFileName), configJson)
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of rtcore",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rtcore version %s\n", version)
		},
	}
)

func init() {
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(commands.TickServerCmd)
	rootCmd.AddCommand(commands.TickClientCmd)
	rootCmd.AddCommand(commands.ShmServerCmd)
	rootCmd.AddCommand(commands.ShmClientCmd)
	rootCmd.AddCommand(commands.PoolBenchCmd)
	rootCmd.AddCommand(commands.MonitorCmd)
	rootCmd.AddCommand(commands.RunsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
