package core

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// MaxDecimalDigits bounds the significant digits of any decimal crossing the
// codec. Values above the bound are rejected at encode time.
const MaxDecimalDigits = 28

// decCtx is the arithmetic context shared by every decimal operation in the
// engine. Half-even rounding at 28 digits mirrors the behaviour contracts
// were written against.
var decCtx = &apd.Context{
	Precision:   MaxDecimalDigits,
	MaxExponent: apd.MaxExponent,
	MinExponent: apd.MinExponent,
	Rounding:    apd.RoundHalfEven,
	Traps:       apd.DefaultTraps,
}

// DecimalContext exposes the engine-wide arithmetic context.
func DecimalContext() *apd.Context { return decCtx }

// maxDecimalExponent bounds the exponent of any accepted decimal; it caps
// the length of the plain-notation canonical form.
const maxDecimalExponent = 1 << 14

func parseDecimal(s string) (*apd.Decimal, error) {
	d, _, err := new(apd.Decimal).SetString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if d.Form != apd.Finite {
		return nil, fmt.Errorf("invalid decimal %q: not finite", s)
	}
	if d.Exponent > maxDecimalExponent || d.Exponent < -maxDecimalExponent {
		return nil, fmt.Errorf("invalid decimal %q: exponent out of range", s)
	}
	return d, nil
}

// canonicalDecimalString renders a decimal in its normalized wire form:
// plain notation, trailing zeroes stripped, with integral values keeping a
// single zero fractional digit.
func canonicalDecimalString(d *apd.Decimal) string {
	r := new(apd.Decimal).Set(d)
	r.Reduce(r)
	s := r.Text('f')
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// decimalDigits counts the significant digits of the reduced coefficient.
func decimalDigits(d *apd.Decimal) int {
	r := new(apd.Decimal).Set(d)
	r.Reduce(r)
	if r.IsZero() {
		return 1
	}
	return int(r.NumDigits())
}
