package core

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func loadTokenSource(t *testing.T) string {
	t.Helper()
	src, err := os.ReadFile("../examples/token.js")
	if err != nil {
		t.Fatalf("read token example: %v", err)
	}
	return string(src)
}

// deployToken compiles the token example and runs its constructor.
func deployToken(t *testing.T, minter Address) (*Contract, *ExecutionContext) {
	t.Helper()
	c := NewContract(testHash(0x11), nil)
	host := NewHost(100 * time.Millisecond)
	if err := host.Compile(c, loadTokenSource(t)); err != nil {
		t.Fatalf("compile token: %v", err)
	}
	ectx := NewExecutionContext(map[ContractHash]*Contract{c.Hash: c})
	ectx.BeginDispatch(nil, c.Hash)
	_, err := c.Invoke("constructor", []Value{Str("Coin"), Str("CN")}, CallOpts{Sender: minter, HasSender: true})
	if err != nil {
		t.Fatalf("constructor: %v", err)
	}
	return c, ectx
}

func mustVar(t *testing.T, c *Contract, name string) Value {
	t.Helper()
	v, ok := c.Variables.GetStr(name)
	if !ok {
		t.Fatalf("variable %s not set", name)
	}
	return v
}

func TestTokenConstructor(t *testing.T) {
	c, _ := deployToken(t, "minter1")
	if got := mustVar(t, c, "minter"); got != Str("minter1") {
		t.Fatalf("minter = %v", got)
	}
	if got := mustVar(t, c, "name"); got != Str("Coin") {
		t.Fatalf("name = %v", got)
	}
	if got := mustVar(t, c, "ticker"); got != Str("CN") {
		t.Fatalf("ticker = %v", got)
	}
	if got := mustVar(t, c, "balances").(*Map); got.Len() != 0 {
		t.Fatalf("balances must start empty, got %d entries", got.Len())
	}
	if got := mustVar(t, c, "allowances").(*Map); got.Len() != 0 {
		t.Fatalf("allowances must start empty, got %d entries", got.Len())
	}
}

func TestTokenMintAndSupply(t *testing.T) {
	c, ectx := deployToken(t, "minter1")
	ectx.BeginDispatch(nil, c.Hash)
	_, err := c.Invoke("mint", []Value{Str("X"), dec(t, "100")}, CallOpts{Sender: "minter1", HasSender: true, External: true})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	balances := mustVar(t, c, "balances").(*Map)
	got, ok := balances.GetStr("X")
	if !ok || !Equal(got, dec(t, "100")) {
		t.Fatalf("balances[X] = %v", got)
	}

	ectx.BeginDispatch(nil, c.Hash)
	supply, err := c.Invoke("supply", nil, CallOpts{External: true})
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if !Equal(supply, dec(t, "100")) {
		t.Fatalf("supply = %v", supply)
	}
}

func TestTokenMintEmitsEvent(t *testing.T) {
	c, ectx := deployToken(t, "minter1")
	ectx.BeginDispatch(nil, c.Hash)
	if _, err := c.Invoke("mint", []Value{Str("X"), dec(t, "5")}, CallOpts{Sender: "minter1", HasSender: true, External: true}); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if len(ectx.Events) != 1 {
		t.Fatalf("expected 1 pending event, got %d", len(ectx.Events))
	}
	ev := ectx.Events[0]
	if ev.Contract != c.Hash || ev.Event.Name != "Mint" {
		t.Fatalf("unexpected event %+v", ev)
	}
	addr, _ := ev.Event.Fields.GetStr("address")
	if addr != Str("X") {
		t.Fatalf("event address = %v", addr)
	}
}

func TestTokenMintUnauthorized(t *testing.T) {
	c, ectx := deployToken(t, "minter1")
	ectx.BeginDispatch(nil, c.Hash)
	_, err := c.Invoke("mint", []Value{Str("X"), dec(t, "100")}, CallOpts{Sender: "intruder", HasSender: true, External: true})
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}
	if !strings.Contains(err.Error(), "Unauthorized") {
		t.Fatalf("expected the thrown reason, got %v", err)
	}
	if balances := mustVar(t, c, "balances").(*Map); balances.Len() != 0 {
		t.Fatal("failed mint must not touch balances")
	}
}

func TestArgumentCoercion(t *testing.T) {
	c, ectx := deployToken(t, "minter1")
	ectx.BeginDispatch(nil, c.Hash)
	// A string in a decimal slot is parsed, the way query-string and JSON
	// arguments arrive.
	if _, err := c.Invoke("mint", []Value{Str("X"), Str("42.5")}, CallOpts{Sender: "minter1", HasSender: true, External: true}); err != nil {
		t.Fatalf("string-to-decimal coercion failed: %v", err)
	}
	balances := mustVar(t, c, "balances").(*Map)
	if got, _ := balances.GetStr("X"); !Equal(got, dec(t, "42.5")) {
		t.Fatalf("balances[X] = %v", got)
	}

	ectx.BeginDispatch(nil, c.Hash)
	_, err := c.Invoke("mint", []Value{Str("X"), Bool(true)}, CallOpts{Sender: "minter1", HasSender: true, External: true})
	if !errors.Is(err, ErrArgumentType) {
		t.Fatalf("expected ErrArgumentType, got %v", err)
	}

	ectx.BeginDispatch(nil, c.Hash)
	_, err = c.Invoke("mint", []Value{Str("X")}, CallOpts{Sender: "minter1", HasSender: true, External: true})
	if !errors.Is(err, ErrArgumentType) {
		t.Fatalf("expected arity error, got %v", err)
	}
}

func TestUnknownAndUnexportedMethods(t *testing.T) {
	src := `
Contract.deploy({
    visible: exported({}, function () { return self.helper(); }),
    helper: internal({}, function () { return 7; })
});`
	c := NewContract(testHash(0x22), nil)
	if err := NewHost(0).Compile(c, src); err != nil {
		t.Fatalf("compile: %v", err)
	}
	ectx := NewExecutionContext(map[ContractHash]*Contract{c.Hash: c})
	ectx.BeginDispatch(nil, c.Hash)

	if _, err := c.Invoke("missing", nil, CallOpts{External: true}); !errors.Is(err, ErrForbiddenMethod) {
		t.Fatalf("expected ErrForbiddenMethod, got %v", err)
	}
	if _, err := c.Invoke("helper", nil, CallOpts{External: true}); !errors.Is(err, ErrForbiddenMethod) {
		t.Fatalf("private method must not be externally callable, got %v", err)
	}
	res, err := c.Invoke("visible", nil, CallOpts{External: true})
	if err != nil {
		t.Fatalf("visible: %v", err)
	}
	if !Equal(res, NewInt(7)) {
		t.Fatalf("visible = %v", res)
	}
}

func TestReservedNameWriteFails(t *testing.T) {
	src := `
Contract.deploy({
    bad: exported({}, function () { self.address = "hijack"; })
});`
	c := NewContract(testHash(0x23), nil)
	if err := NewHost(0).Compile(c, src); err != nil {
		t.Fatalf("compile: %v", err)
	}
	ectx := NewExecutionContext(map[ContractHash]*Contract{c.Hash: c})
	ectx.BeginDispatch(nil, c.Hash)
	if _, err := c.Invoke("bad", nil, CallOpts{External: true}); !errors.Is(err, ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}
	if _, ok := c.Variables.GetStr("address"); ok {
		t.Fatal("reserved name must never land in state")
	}
}

func TestReservedMethodNameRejectedAtCompile(t *testing.T) {
	src := `
Contract.deploy({
    emit: exported({}, function () {})
});`
	c := NewContract(testHash(0x24), nil)
	if err := NewHost(0).Compile(c, src); err == nil {
		t.Fatal("expected compile-time rejection of reserved method name")
	}
}

func TestDeployExactlyOnce(t *testing.T) {
	c := NewContract(testHash(0x25), nil)
	if err := NewHost(0).Compile(c, `var x = 1;`); err == nil {
		t.Fatal("source without Contract.deploy must fail")
	}
	c = NewContract(testHash(0x26), nil)
	err := NewHost(0).Compile(c, `
Contract.deploy({ a: exported({}, function () {}) });
Contract.deploy({ b: exported({}, function () {}) });`)
	if err == nil {
		t.Fatal("double deploy must fail")
	}
}

func TestMethodTimeout(t *testing.T) {
	src := `
Contract.deploy({
    raiser: exported({}, function () { while (true) { } })
});`
	c := NewContract(testHash(0x27), nil)
	if err := NewHost(5 * time.Millisecond).Compile(c, src); err != nil {
		t.Fatalf("compile: %v", err)
	}
	ectx := NewExecutionContext(map[ContractHash]*Contract{c.Hash: c})
	ectx.BeginDispatch(nil, c.Hash)
	start := time.Now()
	_, err := c.Invoke("raiser", nil, CallOpts{External: true})
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("expected timeout execution error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("interrupt took too long: %s", elapsed)
	}
}

const pingSource = `
Contract.deploy({
    ping: exported({sender: "str"}, function (sender) {
        self.last_caller = sender;
        self.pings = (self.pings || 0) + 1;
    })
});`

func TestCrossContractCall(t *testing.T) {
	host := NewHost(100 * time.Millisecond)

	callee := NewContract(testHash(0x31), nil)
	if err := host.Compile(callee, pingSource); err != nil {
		t.Fatalf("compile callee: %v", err)
	}
	callerSrc := `
Contract.deploy({
    poke: exported({target: "str"}, function (target) {
        var other = load_contract(target);
        other.ping();
        self.pokes = (self.pokes || 0) + 1;
    })
});`
	caller := NewContract(testHash(0x32), nil)
	if err := host.Compile(caller, callerSrc); err != nil {
		t.Fatalf("compile caller: %v", err)
	}

	ectx := NewExecutionContext(map[ContractHash]*Contract{
		caller.Hash: caller,
		callee.Hash: callee,
	})
	ectx.BeginDispatch(nil, caller.Hash)
	_, err := caller.Invoke("poke", []Value{Str(callee.Hash.Hex())}, CallOpts{Sender: "alice", HasSender: true, External: true})
	if err != nil {
		t.Fatalf("poke: %v", err)
	}
	// The callee sees the calling contract, not the external sender.
	if got := mustVar(t, callee, "last_caller"); got != Str(caller.Hash.Hex()) {
		t.Fatalf("last_caller = %v", got)
	}
	if got := mustVar(t, callee, "pings"); !Equal(got, NewInt(1)) {
		t.Fatalf("pings = %v", got)
	}
	// Two instances were activated: the caller and the handle.
	if n := ectx.InstanceCount(); n != 2 {
		t.Fatalf("instance count = %d", n)
	}
}

func TestSelfReentryFails(t *testing.T) {
	src := `
Contract.deploy({
    reenter: exported({}, function () {
        load_contract(self.address);
    }),
    marker: exported({}, function () { self.touched = true; })
});`
	c := NewContract(testHash(0x33), nil)
	if err := NewHost(100 * time.Millisecond).Compile(c, src); err != nil {
		t.Fatalf("compile: %v", err)
	}
	ectx := NewExecutionContext(map[ContractHash]*Contract{c.Hash: c})
	ectx.BeginDispatch(nil, c.Hash)
	_, err := c.Invoke("reenter", nil, CallOpts{External: true})
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}
	if !strings.Contains(err.Error(), "cannot call itself") {
		t.Fatalf("expected reentry reason, got %v", err)
	}
}

func TestStateJSONRoundTrip(t *testing.T) {
	c, _ := deployToken(t, "minter1")
	state, err := c.StateJSON()
	if err != nil {
		t.Fatalf("state json: %v", err)
	}
	vars, err := DecodeStateJSON(state)
	if err != nil {
		t.Fatalf("decode state json: %v", err)
	}
	if !Equal(vars, c.Variables) {
		t.Fatalf("state row did not round trip:\n%s", state)
	}
	// Variable order is fixed at write time.
	k, _ := vars.Entry(0)
	if k != Str("minter") {
		t.Fatalf("first variable = %v", k)
	}
}
