package token

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
)

// Amount is an unsigned 256-bit token quantity. It serializes as a decimal
// string in JSON and in the database so amounts survive round-trips without
// precision loss.
type Amount struct {
	v uint256.Int
}

// Zero returns the zero amount.
func Zero() Amount {
	return Amount{}
}

// FromUint64 builds an Amount from a native integer.
func FromUint64(u uint64) Amount {
	var a Amount
	a.v.SetUint64(u)
	return a
}

// Parse reads a non-negative decimal string. The empty string parses as zero.
func Parse(s string) (Amount, error) {
	var a Amount
	if s == "" {
		return a, nil
	}
	if err := a.v.SetFromDecimal(s); err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return a, nil
}

// MustParse is Parse for trusted literals; it panics on malformed input.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) String() string {
	return a.v.Dec()
}

func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// Cmp returns -1, 0 or 1 comparing a against b.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

func (a Amount) Eq(b Amount) bool  { return a.v.Eq(&b.v) }
func (a Amount) Lt(b Amount) bool  { return a.v.Lt(&b.v) }
func (a Amount) Gt(b Amount) bool  { return a.v.Gt(&b.v) }
func (a Amount) Gte(b Amount) bool { return !a.v.Lt(&b.v) }

func (a Amount) Add(b Amount) Amount {
	var z Amount
	z.v.Add(&a.v, &b.v)
	return z
}

// Sub returns a-b and whether the subtraction stayed in range. Callers must
// treat ok=false as an underflow and discard the result.
func (a Amount) Sub(b Amount) (Amount, bool) {
	var z Amount
	_, borrow := z.v.SubOverflow(&a.v, &b.v)
	return z, !borrow
}

// MulUint64 returns a*u and whether the product fit in 256 bits.
func (a Amount) MulUint64(u uint64) (Amount, bool) {
	var z Amount
	_, overflow := z.v.MulOverflow(&a.v, uint256.NewInt(u))
	return z, !overflow
}

// DivUint64 floor-divides a by u. Division by zero yields zero, mirroring
// uint256 semantics; callers guard the denominator.
func (a Amount) DivUint64(u uint64) Amount {
	var z Amount
	z.v.Div(&a.v, uint256.NewInt(u))
	return z
}

// Div floor-divides a by b.
func (a Amount) Div(b Amount) Amount {
	var z Amount
	z.v.Div(&a.v, &b.v)
	return z
}

// Uint64 narrows the amount to a native integer, reporting whether it fit.
func (a Amount) Uint64() (uint64, bool) {
	if !a.v.IsUint64() {
		return 0, false
	}
	return a.v.Uint64(), true
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer; amounts are stored as decimal text.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("negative amount %d", v)
		}
		*a = FromUint64(uint64(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Amount", src)
	}
}
