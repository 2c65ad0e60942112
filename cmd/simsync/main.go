// Command simsync runs a simsync server or client from a configuration file.
//
//	simsync server -c simsync.yaml
//	simsync client -c simsync.yaml --server 10.0.0.5:27015 --count 100
//	simsync config print
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/opd-ai/simsync/config"
	"github.com/opd-ai/simsync/logging"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "simsync",
	Short:         "Multiplayer state synchronization over UDP",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file (YAML)")
}

// loadConfig reads the configuration and applies its log section.
func loadConfig() (*config.Config, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return cfg, closer, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
