package fbtypes

import (
	"fmt"
	"math/big"
)

// Amount represents a u128 balance or TLC value, in the channel's native
// unit (native asset shannons, or the smallest unit of a UDT). We back it
// with math/big rather than uint64 because the wire format
// (original_source's serde_utils::U128Hex) round-trips the full 128-bit
// range, and channel capacities for UDT-denominated channels are not bounded
// by 64 bits.
type Amount struct {
	v big.Int
}

// NewAmount builds an Amount from a plain uint64, the common case in tests
// and RPC call sites that don't need the full 128-bit range.
func NewAmount(v uint64) Amount {
	var a Amount
	a.v.SetUint64(v)
	return a
}

// NewAmountFromBigInt builds an Amount from an arbitrary-precision value,
// used by fee arithmetic that can't be expressed in 64 bits.
func NewAmountFromBigInt(v *big.Int) Amount {
	var a Amount
	a.v.Set(v)
	return a
}

func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(&a.v)
}

func (a Amount) Add(b Amount) Amount {
	var out Amount
	out.v.Add(&a.v, &b.v)
	return out
}

func (a Amount) Sub(b Amount) Amount {
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out
}

func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

func (a Amount) IsZero() bool {
	return a.v.Sign() == 0
}

// GreaterThan reports whether a > b.
func (a Amount) GreaterThan(b Amount) bool { return a.Cmp(b) > 0 }

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool { return a.Cmp(b) < 0 }

func (a Amount) String() string {
	return a.v.String()
}

// Uint64 returns a's value truncated to 64 bits; callers must only use this
// where the value is known to fit (e.g. fee computations on the fee rate,
// not on raw channel balances).
func (a Amount) Uint64() uint64 {
	return a.v.Uint64()
}

// MarshalJSON encodes the amount as a 0x-prefixed hex string, matching
// original_source's U128Hex convention for RPC params and persisted records.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"0x%s"`, a.v.Text(16))), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 {
		return fmt.Errorf("fbtypes: invalid Amount json %q", s)
	}
	s = s[1 : len(s)-1]
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if s == "" {
		s = "0"
	}
	_, ok := a.v.SetString(s, 16)
	if !ok {
		return fmt.Errorf("fbtypes: invalid Amount hex %q", s)
	}
	return nil
}
