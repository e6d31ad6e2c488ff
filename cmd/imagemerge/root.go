package main

import (
	"os"

	"github.com/dfryer1193/imagemerge/internal/config"
	"github.com/dfryer1193/imagemerge/internal/logging"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "imagemerge",
	Short:        "Store JPEG images and composite them over each other by colour key",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv(config.EnvConfigPath),
		"path to a TOML config file (env "+config.EnvConfigPath+")")
}

// loadConfig reads the configuration and installs the global logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.Logging, cmd.ErrOrStderr()); err != nil {
		return nil, err
	}
	return cfg, nil
}
