package decimal

import (
	"encoding/json"
	"testing"
)

func TestParseCanonical(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"-0", "0"},
		{"-0.00", "0"},
		{"0.00", "0"},
		{"12", "12"},
		{"12.3", "12.3"},
		{"12.30", "12.3"},
		{"12.34", "12.34"},
		{"0.5", "0.5"},
		{"0.05", "0.05"},
		{"-3.7", "-3.7"},
		{"100.999", "100.99"}, // third digit truncated
		{"2.009", "2"},
		{"-1.239", "-1.23"},
		{"007.10", "7.1"},
	}
	for _, c := range cases {
		d, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if got := d.String(); got != c.want {
			t.Errorf("Parse(%q).String() = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "-", ".", "1.", ".5", "1.2.3", "1e5", "abc", "1,000", "+1", "1 0", "NaN"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}

func TestArithmetic(t *testing.T) {
	a := MustParse("10.50")
	b := MustParse("0.75")

	if got := a.Add(b).String(); got != "11.25" {
		t.Errorf("10.50 + 0.75 = %s", got)
	}
	if got := a.Sub(b).String(); got != "9.75" {
		t.Errorf("10.50 - 0.75 = %s", got)
	}
	if got := b.Sub(a).String(); got != "-9.75" {
		t.Errorf("0.75 - 10.50 = %s", got)
	}
	if got := a.Neg().String(); got != "-10.5" {
		t.Errorf("-(10.50) = %s", got)
	}
}

func TestMulTruncates(t *testing.T) {
	cases := []struct {
		a, b, want string
	}{
		{"10", "0.33", "3.3"},
		{"10", "0.333", "3.3"},   // 0.333 parses to 0.33
		{"3.33", "3.33", "11.08"}, // 11.0889 truncates
		{"0.05", "0.05", "0"},     // 0.0025 truncates to zero
		{"-3.33", "3.33", "-11.08"},
		{"7", "1.5", "10.5"},
		{"100", "0.1", "10"},
	}
	for _, c := range cases {
		got := MustParse(c.a).Mul(MustParse(c.b)).String()
		if got != c.want {
			t.Errorf("%s * %s = %s, want %s", c.a, c.b, got, c.want)
		}
	}
}

func TestZeroValue(t *testing.T) {
	var d Decimal
	if !d.IsZero() {
		t.Error("zero value is not zero")
	}
	if got := d.String(); got != "0" {
		t.Errorf("zero value String() = %q", got)
	}
	if got := d.Add(MustParse("1.25")).String(); got != "1.25" {
		t.Errorf("0 + 1.25 = %s", got)
	}
	if !Zero.Equal(d) {
		t.Error("Zero != zero value")
	}
}

func TestComparisons(t *testing.T) {
	small := MustParse("1.01")
	big := MustParse("1.10")

	if !small.LT(big) || !big.GT(small) || !big.GTE(small) || !big.GTE(big) {
		t.Error("comparison operators disagree with ordering")
	}
	if small.Equal(big) {
		t.Error("1.01 == 1.10")
	}
	if got := small.Min(big); !got.Equal(small) {
		t.Errorf("Min = %s", got)
	}
	if !MustParse("-5").IsNegative() || !MustParse("5").IsPositive() {
		t.Error("sign predicates wrong")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		Amount Decimal `json:"amount"`
	}
	raw, err := json.Marshal(payload{Amount: MustParse("42.50")})
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"amount":"42.5"}` {
		t.Errorf("marshal = %s", raw)
	}

	var back payload
	if err := json.Unmarshal([]byte(`{"amount":"0.10"}`), &back); err != nil {
		t.Fatal(err)
	}
	if got := back.Amount.String(); got != "0.1" {
		t.Errorf("unmarshal = %s", got)
	}

	if err := json.Unmarshal([]byte(`{"amount":"bogus"}`), &back); err == nil {
		t.Error("expected unmarshal error for malformed decimal")
	}
	if err := json.Unmarshal([]byte(`{"amount":12.5}`), &back); err == nil {
		t.Error("expected unmarshal error for JSON number")
	}
}
