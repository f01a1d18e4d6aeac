package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var configInitOut string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and scaffold configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective configuration as a starter config file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := os.Stat(configInitOut); err == nil {
			return eris.Errorf("%s already exists, refusing to overwrite", configInitOut)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return eris.Wrap(err, "marshal config")
		}
		if err := os.WriteFile(configInitOut, data, 0o644); err != nil {
			return eris.Wrap(err, "write config file")
		}

		zap.L().Info("config written", zap.String("path", configInitOut))
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVar(&configInitOut, "out", "config.yaml", "output path")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
