package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/denaro-coin/dvm/core"
	"github.com/denaro-coin/dvm/internal/testutil"
)

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("command %v: %v", args, err)
	}
	return strings.TrimSpace(buf.String())
}

func TestCreatePayloadCommand(t *testing.T) {
	fixtures, err := testutil.NewContractDir()
	if err != nil {
		t.Fatalf("fixtures: %v", err)
	}
	defer fixtures.Cleanup()

	source := `Contract.deploy({ noop: exported({}, function () {}) });`
	path, err := fixtures.WriteSource("contract", source)
	if err != nil {
		t.Fatalf("write source: %v", err)
	}

	out := runCommand(t, "create-payload", path, `["Coin", "CN"]`)
	payload, err := hexutil.Decode(out)
	if err != nil {
		t.Fatalf("output is not hex: %q", out)
	}
	rec, err := core.DecodeRecord(payload)
	if err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	creation, ok := rec.(*core.ContractCreation)
	if !ok {
		t.Fatalf("expected a creation record, got %T", rec)
	}
	if creation.Source != source {
		t.Fatalf("source mismatch: %q", creation.Source)
	}
	if creation.Args.Len() != 2 || creation.Args.At(0) != core.Str("Coin") {
		t.Fatalf("args mismatch: %#v", creation.Args)
	}
}

func TestCallPayloadCommand(t *testing.T) {
	hash := strings.Repeat("1f", 32)
	out := runCommand(t, "call-payload", hash, "transfer", `["Y", "50"]`)
	payload, err := hexutil.Decode(out)
	if err != nil {
		t.Fatalf("output is not hex: %q", out)
	}
	rec, err := core.DecodeRecord(payload)
	if err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	call, ok := rec.(*core.ContractCall)
	if !ok {
		t.Fatalf("expected a call record, got %T", rec)
	}
	if call.Method != "transfer" || call.ContractHash.Hex() != hash {
		t.Fatalf("call mismatch: %+v", call)
	}
}
