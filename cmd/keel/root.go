package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/keel/internal/config"
	"github.com/aretw0/keel/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "keel",
	Short: "Keel is a transactional management kernel for server fleets",
	Long: `Keel applies management operations to a tree of resources atomically, on one process
or across a controller and its subordinates with a two-phase commit.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Configuration file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
}

// flagKeys maps command flags onto configuration keys.
var flagKeys = map[string]string{
	"name":      "name",
	"listen":    "listen",
	"log-level": "loglevel",
	"storage":   "storage.backend",
	"path":      "storage.path",
}

// loadConfig reads --config, then applies the flags the user set. A non-empty role overrides the
// configured one.
func loadConfig(cmd *cobra.Command, role string) (config.Root, error) {
	v := config.New()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config.Root{}, fmt.Errorf("read config: %w", err)
		}
	}
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}
	if role != "" {
		v.Set("role", role)
	}
	return config.Decode(v)
}

func newLogger(cfg config.Root) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.New(level)
	slog.SetDefault(logger)
	return logger, nil
}
