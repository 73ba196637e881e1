package core

import (
	"bytes"
	"testing"
)

func TestAmountBytesRoundTrip(t *testing.T) {
	for _, raw := range []uint64{0, 1, 1000, ^uint64(0)} {
		amount := AmountFromUint64(raw)
		b := amount.Bytes()
		if len(b) != AmountSize {
			t.Fatalf("Bytes() length = %d, want %d", len(b), AmountSize)
		}
		decoded, err := AmountFromBytes(b)
		if err != nil {
			t.Fatalf("AmountFromBytes() error = %v", err)
		}
		if !decoded.Equal(amount) {
			t.Errorf("round trip of %d = %s", raw, decoded)
		}
	}
}

func TestMaxAmount(t *testing.T) {
	want := bytes.Repeat([]byte{0xff}, AmountSize)
	if !bytes.Equal(MaxAmount.Bytes(), want) {
		t.Errorf("MaxAmount.Bytes() = %x, want all ff", MaxAmount.Bytes())
	}
	if MaxAmount.String() != "340282366920938463463374607431768211455" {
		t.Errorf("MaxAmount.String() = %s", MaxAmount.String())
	}
}

func TestAmountDecHexParsing(t *testing.T) {
	amount, err := AmountFromDec("340282366920938463463374607431768211455")
	if err != nil {
		t.Fatalf("AmountFromDec(max) error = %v", err)
	}
	if !amount.Equal(MaxAmount) {
		t.Error("AmountFromDec(max) != MaxAmount")
	}

	if _, err := AmountFromDec("340282366920938463463374607431768211456"); err == nil {
		t.Error("AmountFromDec(2^128) expected overflow error")
	}

	fromHex, err := AmountFromHex("000000000000000000000000000003E8")
	if err != nil {
		t.Fatalf("AmountFromHex() error = %v", err)
	}
	if fromHex.Uint64() != 1000 {
		t.Errorf("AmountFromHex(3E8) = %s, want 1000", fromHex)
	}
	if got := fromHex.Hex(); got != "000000000000000000000000000003E8" {
		t.Errorf("Hex() = %s", got)
	}
}

func TestAmountArithmetic(t *testing.T) {
	a := AmountFromUint64(1000)
	b := AmountFromUint64(400)

	if got := a.Sub(b); got.Uint64() != 600 {
		t.Errorf("1000-400 = %s", got)
	}
	if got := a.Add(b); got.Uint64() != 1400 {
		t.Errorf("1000+400 = %s", got)
	}
	if a.Cmp(b) != 1 || b.Cmp(a) != -1 || a.Cmp(a) != 0 {
		t.Error("Cmp ordering wrong")
	}
}

func TestAmountWrappingCancels(t *testing.T) {
	// The weight cache relies on (0 - a) + a == 0 under wrap.
	a := AmountFromUint64(12345)
	neg := Amount{}.WrappingSub(a)
	if got := neg.WrappingAdd(a); !got.IsZero() {
		t.Errorf("(0-a)+a = %s, want 0", got)
	}
}
