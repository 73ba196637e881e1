package core

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Amount is a 128-bit unsigned balance in raw. It is backed by a 256-bit
// integer; all ledger values fit in the low 128 bits and are encoded as 16
// big-endian bytes on the wire.
type Amount struct {
	v uint256.Int
}

// MaxAmount is 2^128-1 raw, the genesis supply.
var MaxAmount = func() Amount {
	var a Amount
	for i := 0; i < 2; i++ {
		a.v[i] = ^uint64(0)
	}
	return a
}()

// AmountFromUint64 builds an amount from a small raw value.
func AmountFromUint64(raw uint64) Amount {
	var a Amount
	a.v.SetUint64(raw)
	return a
}

// AmountFromDec parses a decimal raw string.
func AmountFromDec(s string) (Amount, error) {
	var a Amount
	if err := a.v.SetFromDecimal(s); err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !a.fits() {
		return Amount{}, fmt.Errorf("amount %q exceeds 128 bits", s)
	}
	return a, nil
}

// AmountFromHex parses a 32-character hex string (legacy send balances).
func AmountFromHex(s string) (Amount, error) {
	var a Amount
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	if err := a.v.SetFromHex("0x" + trimmed); err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !a.fits() {
		return Amount{}, fmt.Errorf("amount %q exceeds 128 bits", s)
	}
	return a, nil
}

// AmountFromBytes decodes 16 big-endian bytes.
func AmountFromBytes(b []byte) (Amount, error) {
	if len(b) != AmountSize {
		return Amount{}, fmt.Errorf("amount length %d, want %d", len(b), AmountSize)
	}
	var a Amount
	a.v.SetBytes16(b)
	return a, nil
}

func (a Amount) fits() bool { return a.v[2] == 0 && a.v[3] == 0 }

// Bytes returns the 16-byte big-endian wire encoding.
func (a Amount) Bytes() []byte {
	b32 := a.v.Bytes32()
	out := make([]byte, AmountSize)
	copy(out, b32[16:])
	return out
}

// IsZero reports whether the amount is zero raw.
func (a Amount) IsZero() bool { return a.v.IsZero() }

// Cmp returns -1, 0 or 1 comparing a against other.
func (a Amount) Cmp(other Amount) int { return a.v.Cmp(&other.v) }

// Equal reports raw equality.
func (a Amount) Equal(other Amount) bool { return a.v.Eq(&other.v) }

// Add returns a+other. The caller is responsible for overflow not occurring
// on ledger balances; sums are bounded by the genesis supply.
func (a Amount) Add(other Amount) Amount {
	var r Amount
	r.v.Add(&a.v, &other.v)
	return r
}

// Sub returns a-other. The caller must ensure other <= a.
func (a Amount) Sub(other Amount) Amount {
	var r Amount
	r.v.Sub(&a.v, &other.v)
	return r
}

// WrappingSub returns a-other with two's-complement wrap. Used only by the
// representative weight cache, which may transit through negative values
// while a batched rollback is in flight.
func (a Amount) WrappingSub(other Amount) Amount {
	var r Amount
	r.v.Sub(&a.v, &other.v)
	return r
}

// WrappingAdd returns a+other with wrap, the inverse of WrappingSub.
func (a Amount) WrappingAdd(other Amount) Amount {
	var r Amount
	r.v.Add(&a.v, &other.v)
	return r
}

// Uint64 returns the low 64 bits; callers use it only for small test values.
func (a Amount) Uint64() uint64 { return a.v.Uint64() }

// String returns the decimal raw value.
func (a Amount) String() string { return a.v.Dec() }

// Hex returns the 32-character uppercase hex form used by legacy send
// blocks in JSON.
func (a Amount) Hex() string {
	return fmt.Sprintf("%X", a.Bytes())
}
