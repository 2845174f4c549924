package core

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
)

func TestFeeRate(t *testing.T) {
	smallest := apd.New(1, -6)

	rate, err := FeeRate(apd.New(5, 0), 250, smallest)
	if err != nil {
		t.Fatalf("fee rate: %v", err)
	}
	if rate.Text('f') != "0.02" {
		t.Fatalf("rate = %s", rate.Text('f'))
	}

	// Zero fees floor at 1/smallest.
	rate, err = FeeRate(apd.New(0, 0), 250, smallest)
	if err != nil {
		t.Fatalf("fee rate floor: %v", err)
	}
	if rate.Text('f') != "1000000" {
		t.Fatalf("floored rate = %s", rate.Text('f'))
	}

	if _, err := FeeRate(apd.New(1, 0), 0, smallest); err == nil {
		t.Fatal("zero-size transaction must be rejected")
	}
}

func TestMeterGasMonotonic(t *testing.T) {
	base := MeterGas(100, 200, 0, 1)
	grown := MeterGas(100, 300, 0, 1)
	if grown <= base {
		t.Fatalf("gas must grow with the state delta: %d <= %d", grown, base)
	}
	deeper := MeterGas(100, 200, 0, 2)
	if deeper != base+InstanceGas {
		t.Fatalf("each instance adds %d: %d vs %d", InstanceGas, deeper, base)
	}
	// The delta is absolute, so shrinking costs like growing.
	if MeterGas(300, 100, 0, 1) != MeterGas(100, 300, 0, 1) {
		t.Fatal("shrink and growth of the same magnitude must meter equally")
	}
	withEvents := MeterGas(100, 200, 64, 1)
	if withEvents != base+64 {
		t.Fatalf("events are billed by encoded size: %d vs %d", withEvents, base)
	}
}

func TestRequiredFee(t *testing.T) {
	rate, err := FeeRate(nil, 0, apd.New(1, 0))
	if err != nil {
		t.Fatalf("fee rate: %v", err)
	}
	required, err := RequiredFee(2048, rate)
	if err != nil {
		t.Fatalf("required fee: %v", err)
	}
	if required.Text('f') != "2048" {
		t.Fatalf("required = %s", required.Text('f'))
	}
}

func TestSnapshotRestore(t *testing.T) {
	c := NewContract(testHash(0x41), nil)
	c.Variables.SetStr("x", NewInt(1))
	ectx := NewExecutionContext(map[ContractHash]*Contract{c.Hash: c})

	snap, err := snapshotWorkingSet(ectx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	c.Variables.SetStr("x", NewInt(99))
	c.Variables.SetStr("y", Str("junk"))
	created := NewContract(testHash(0x42), nil)
	ectx.AddContract(created)

	if err := snap.restore(ectx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, ok := ectx.Contracts[created.Hash]; ok {
		t.Fatal("created contract must be dropped on restore")
	}
	x, _ := ectx.Contracts[c.Hash].Variables.GetStr("x")
	if !Equal(x, NewInt(1)) {
		t.Fatalf("x = %v after restore", x)
	}
	if _, ok := ectx.Contracts[c.Hash].Variables.GetStr("y"); ok {
		t.Fatal("y must be gone after restore")
	}

	after, err := snapshotWorkingSet(ectx)
	if err != nil {
		t.Fatalf("re-snapshot: %v", err)
	}
	if after.size != snap.size {
		t.Fatalf("restored working set differs in size: %d vs %d", after.size, snap.size)
	}
}
