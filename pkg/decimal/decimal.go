// Package decimal implements fixed-point monetary arithmetic with two
// fractional digits over arbitrary-precision integers. Prices, quantities
// and balances travel through the system as canonical decimal strings;
// this package is the only place that parses or formats them.
package decimal

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// ErrInvalid reports input that does not match the money grammar
// -?digits(.digits)?. Malformed values are rejected outright, never coerced.
var ErrInvalid = errors.New("decimal: invalid value")

var (
	grammar = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	hundred = big.NewInt(100)
)

// fracDigits is the fixed scale: every value is an integer count of 1/100ths.
const fracDigits = 2

// Decimal is an immutable money/quantity value. The zero value is 0.
type Decimal struct {
	scaled *big.Int
}

// Zero is the canonical zero value.
var Zero = Decimal{}

// Parse converts a decimal string to a Decimal. Fractional digits beyond
// the second are truncated, not rounded. A negative zero normalizes to
// zero.
func Parse(s string) (Decimal, error) {
	t := strings.TrimSpace(s)
	if !grammar.MatchString(t) {
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	neg := strings.HasPrefix(t, "-")
	t = strings.TrimPrefix(t, "-")

	intPart, fracPart, _ := strings.Cut(t, ".")
	if len(fracPart) > fracDigits {
		fracPart = fracPart[:fracDigits]
	}
	for len(fracPart) < fracDigits {
		fracPart += "0"
	}

	n, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if neg {
		n.Neg(n)
	}
	return Decimal{scaled: n}, nil
}

// MustParse is Parse for trusted literals; it panics on malformed input.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Decimal) big() *big.Int {
	if d.scaled == nil {
		return new(big.Int)
	}
	return d.scaled
}

// String renders the canonical form: no leading zeros, trailing fractional
// zeros trimmed, bare integer when the fraction is exactly zero.
func (d Decimal) String() string {
	n := d.big()
	sign := ""
	if n.Sign() < 0 {
		sign = "-"
	}
	abs := new(big.Int).Abs(n)
	q, r := new(big.Int).QuoRem(abs, hundred, new(big.Int))
	frac := strings.TrimRight(fmt.Sprintf("%02d", r.Int64()), "0")
	if frac == "" {
		return sign + q.String()
	}
	return sign + q.String() + "." + frac
}

// Add returns d + o.
func (d Decimal) Add(o Decimal) Decimal {
	return Decimal{scaled: new(big.Int).Add(d.big(), o.big())}
}

// Sub returns d - o.
func (d Decimal) Sub(o Decimal) Decimal {
	return Decimal{scaled: new(big.Int).Sub(d.big(), o.big())}
}

// Mul returns d × o. The exact scaled product is divided back down with
// truncating (toward zero) integer division: the residue beyond two
// fractional digits is dropped, never rounded up. Fee and fill notionals
// depend on this exact policy.
func (d Decimal) Mul(o Decimal) Decimal {
	p := new(big.Int).Mul(d.big(), o.big())
	return Decimal{scaled: p.Quo(p, hundred)}
}

// Neg returns -d.
func (d Decimal) Neg() Decimal {
	return Decimal{scaled: new(big.Int).Neg(d.big())}
}

// Cmp returns -1, 0 or +1 comparing d against o.
func (d Decimal) Cmp(o Decimal) int { return d.big().Cmp(o.big()) }

func (d Decimal) Equal(o Decimal) bool { return d.Cmp(o) == 0 }
func (d Decimal) GTE(o Decimal) bool   { return d.Cmp(o) >= 0 }
func (d Decimal) GT(o Decimal) bool    { return d.Cmp(o) > 0 }
func (d Decimal) LT(o Decimal) bool    { return d.Cmp(o) < 0 }

func (d Decimal) IsZero() bool     { return d.big().Sign() == 0 }
func (d Decimal) IsPositive() bool { return d.big().Sign() > 0 }
func (d Decimal) IsNegative() bool { return d.big().Sign() < 0 }

// Min returns the smaller of d and o.
func (d Decimal) Min(o Decimal) Decimal {
	if d.LT(o) {
		return d
	}
	return o
}

// MarshalJSON encodes the value as its canonical string.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a JSON string through Parse.
func (d *Decimal) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}
