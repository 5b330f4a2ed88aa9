// cmd/root.go
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/catune/catune/deconv"
)

var (
	logLevel   string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "catune",
	Short: "Interactive parameter tuning for calcium-trace sparse deconvolution",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
		return nil
	},
}

// loadConfig resolves the tuning constants: defaults, or the --config file.
func loadConfig() *deconv.Config {
	if configPath == "" {
		return deconv.DefaultConfig()
	}
	cfg, err := deconv.LoadConfig(configPath)
	if err != nil {
		logrus.Fatalf("Config: %v", err)
	}
	return cfg
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML tuning-constants file")
}
