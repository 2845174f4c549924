package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/denaro-coin/dvm/core"
)

var createPayloadCmd = &cobra.Command{
	Use:   "create-payload <source.js> [args-json]",
	Short: "Assemble a contract-creation payload from a source file",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var argsJSON []byte
		if len(args) == 2 {
			argsJSON = []byte(args[1])
		}
		tuple, err := core.TupleFromJSONArgs(argsJSON)
		if err != nil {
			return err
		}
		creation := &core.ContractCreation{Source: string(source), Args: tuple}
		payload, err := creation.Payload()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(payload))
		return nil
	},
}

var callPayloadCmd = &cobra.Command{
	Use:   "call-payload <contract-hash> <method> [args-json]",
	Short: "Assemble a contract-call payload",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := core.ParseContractHash(args[0])
		if err != nil {
			return err
		}
		var argsJSON []byte
		if len(args) == 3 {
			argsJSON = []byte(args[2])
		}
		tuple, err := core.TupleFromJSONArgs(argsJSON)
		if err != nil {
			return err
		}
		call := &core.ContractCall{ContractHash: hash, Method: args[1], Args: tuple}
		payload, err := call.Payload()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(payload))
		return nil
	},
}
