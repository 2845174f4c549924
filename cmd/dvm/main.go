package main

import (
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/denaro-coin/dvm/pkg/utils"
)

var rootCmd = &cobra.Command{
	Use:   "dvm",
	Short: "Smart-contract execution engine for a UTXO ledger",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		_ = godotenv.Load()
		lvl, err := logrus.ParseLevel(utils.EnvOrDefault("LOG_LEVEL", "info"))
		if err != nil {
			return utils.Wrap(err, "invalid LOG_LEVEL")
		}
		logrus.SetLevel(lvl)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd, serveCmd, createPayloadCmd, callPayloadCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}
