package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/denaro-coin/dvm/core"
	"github.com/denaro-coin/dvm/pkg/config"
	"github.com/denaro-coin/dvm/pkg/utils"
	"github.com/denaro-coin/dvm/server"
	"github.com/denaro-coin/dvm/storage"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the block execution loop",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := storage.NewPostgresStore(ctx, cfg.DSN())
		if err != nil {
			return utils.Wrap(err, "open state store")
		}
		defer store.Close()

		chain, err := storage.OpenChainDB(ctx, cfg.DSN())
		if err != nil {
			return utils.Wrap(err, "open ledger database")
		}
		defer chain.Close()

		dvm := core.NewDVM(store, core.NewHost(cfg.MethodTimeout))
		driver, err := core.NewDriver(dvm, chain, core.DriverConfig{
			VMAddress: core.Address(cfg.VMAddress),
			Smallest:  cfg.Smallest,
		})
		if err != nil {
			return err
		}
		if err := driver.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the read-only query server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.NewPostgresStore(cmd.Context(), cfg.DSN())
		if err != nil {
			return utils.Wrap(err, "open state store")
		}
		defer store.Close()

		dvm := core.NewDVM(store, core.NewHost(cfg.MethodTimeout))
		return server.New(cfg.Bind, dvm).Start()
	},
}
