package core

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// reservedNames are variable names contract code may never write. `address`
// and `transaction` additionally resolve to host-provided projections on
// read.
var reservedNames = map[string]struct{}{
	"address":     {},
	"transaction": {},
	"block":       {},
	"create":      {},
	"emit":        {},
	"deploy":      {},
	"wrap":        {},
	"reserved":    {},
}

func isReservedName(name string) bool {
	_, ok := reservedNames[name]
	return ok
}

// ReservedNames returns the reserved variable names in sorted order.
func ReservedNames() []string {
	out := make([]string, 0, len(reservedNames))
	for n := range reservedNames {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Param is one declared parameter of an exported method.
type Param struct {
	Name string
	Kind Kind
}

// Method is one entry of a contract's method table: a named callable with a
// declared parameter-type signature. The body lives inside the contract's
// isolated execution context.
type Method struct {
	Name     string
	Params   []Param
	Exported bool

	fn jsCallable
}

// wantsSender reports whether the driver must inject the sender as the first
// argument.
func (m *Method) wantsSender() bool {
	return len(m.Params) > 0 && m.Params[0].Name == "sender"
}

// Contract is a persistent entity: its hash, its named state variables and
// the method table derived from its source.
type Contract struct {
	Hash      ContractHash
	Source    string
	Variables *Map

	methods     map[string]*Method
	methodOrder []string

	rt   *contractRuntime
	ectx *ExecutionContext
}

// NewContract builds a contract shell around persisted state. The method
// table is populated when the host compiles the source.
func NewContract(hash ContractHash, variables *Map) *Contract {
	if variables == nil {
		variables = NewMap()
	}
	return &Contract{
		Hash:      hash,
		Variables: variables,
		methods:   make(map[string]*Method),
	}
}

// Bind attaches the execution context the contract's host calls operate in.
// The driver rebinds the whole working set once per block.
func (c *Contract) Bind(ectx *ExecutionContext) { c.ectx = ectx }

// Method looks up a method table entry by name.
func (c *Contract) Method(name string) (*Method, bool) {
	m, ok := c.methods[name]
	return m, ok
}

// MethodNames lists the method table in registration order.
func (c *Contract) MethodNames() []string {
	return append([]string(nil), c.methodOrder...)
}

func (c *Contract) addMethod(m *Method) error {
	if _, dup := c.methods[m.Name]; dup {
		return fmt.Errorf("method %s registered twice", m.Name)
	}
	if isReservedName(m.Name) {
		return fmt.Errorf("method %s overrides a reserved name", m.Name)
	}
	c.methods[m.Name] = m
	c.methodOrder = append(c.methodOrder, m.Name)
	return nil
}

// setVariable is the single write path into contract state. Reserved names
// and method names are rejected.
func (c *Contract) setVariable(name string, v Value) error {
	if isReservedName(name) {
		return fmt.Errorf("overwriting reserved property %s", name)
	}
	if _, ok := c.methods[name]; ok {
		return fmt.Errorf("overwriting %s method", name)
	}
	c.Variables.SetStr(name, v)
	return nil
}

// StateJSON encodes the variable map as the persisted state row: a JSON
// object from variable name to hex-encoded codec bytes, in the variable
// map's iteration order.
func (c *Contract) StateJSON() (string, error) {
	return EncodeStateJSON(c.Variables)
}

// EncodeStateJSON renders a string-keyed variable map in its persisted row
// form, preserving iteration order.
func EncodeStateJSON(vars *Map) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i := 0; i < vars.Len(); i++ {
		k, v := vars.Entry(i)
		name, ok := k.(Str)
		if !ok {
			return "", fmt.Errorf("variable name must be a string, got %s", k.Kind())
		}
		enc, err := Serialize(v)
		if err != nil {
			return "", fmt.Errorf("encode variable %s: %w", name, err)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		jsonName, err := json.Marshal(string(name))
		if err != nil {
			return "", err
		}
		buf.Write(jsonName)
		buf.WriteByte(':')
		buf.WriteByte('"')
		buf.WriteString(hex.EncodeToString(enc))
		buf.WriteByte('"')
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

// DecodeStateJSON parses a persisted state row back into a variable map.
// JSON objects do not guarantee member order across storage engines, so the
// decoded map's order follows the row text.
func DecodeStateJSON(state string) (*Map, error) {
	vars := NewMap()
	if state == "" {
		return vars, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(state)))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("state row: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("state row must be a JSON object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("state row: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("state row key must be a string")
		}
		var hexVal string
		if err := dec.Decode(&hexVal); err != nil {
			return nil, fmt.Errorf("state row value for %s: %w", name, err)
		}
		raw, err := hex.DecodeString(hexVal)
		if err != nil {
			return nil, fmt.Errorf("state row value for %s: %w", name, err)
		}
		v, err := Deserialize(raw)
		if err != nil {
			return nil, fmt.Errorf("decode variable %s: %w", name, err)
		}
		vars.SetStr(name, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("state row: %w", err)
	}
	return vars, nil
}

// Event is a structured record emitted during a call: a type name plus an
// ordered mapping of field name to value. Events never feed back into state.
type Event struct {
	Name   string
	Fields *Map
}

// ArgsJSON renders the event fields in their persisted row form.
func (e *Event) ArgsJSON() (string, error) {
	return EncodeStateJSON(e.Fields)
}

// EmittedEvent pairs an event with the contract that emitted it.
type EmittedEvent struct {
	Contract ContractHash
	Event    *Event
}
