package main

import (
	"context"
	"os"

	"github.com/aretw0/keel/internal/cli"
	"github.com/aretw0/keel/internal/config"
	"github.com/aretw0/keel/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run a controller process",
	Long: `Starts a controller. It dials every configured participant over websocket and serves the
management API; fleet operations commit on the controller and its participants or on none.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd, config.RoleController)
	},
}

var subordinateCmd = &cobra.Command{
	Use:   "subordinate",
	Short: "Run a subordinate process",
	Long:  `Starts a subordinate. It serves the management API and accepts its controller at /channel.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd, config.RoleSubordinate)
	},
}

func serve(cmd *cobra.Command, role string) error {
	cfg, err := loadConfig(cmd, role)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	tui.PrintBanner(os.Stderr, cfg.Name, cfg.Role)

	ctx := cli.NewSignalContext(context.Background())
	defer ctx.Cancel()

	rt, err := cli.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("close", "err", err)
		}
	}()

	h, err := rt.Handler()
	if err != nil {
		return err
	}
	if err := rt.ListenAndServe(ctx, cfg.Listen, h); err != nil {
		return err
	}
	if sig := ctx.Signal(); sig != nil {
		logger.Info("stopped", "signal", sig.String())
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{controllerCmd, subordinateCmd} {
		c.Flags().String("name", "", "Process name")
		c.Flags().String("listen", "", "Address of the management API, e.g. :9990")
		c.Flags().String("storage", "", "Snapshot backend: memory, file, badger or redis")
		c.Flags().String("path", "", "Snapshot directory for the file and badger backends")
		rootCmd.AddCommand(c)
	}
}
