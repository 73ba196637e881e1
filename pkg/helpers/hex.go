// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexToBytes converts a hex string (with or without 0x prefix) to bytes.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}

// BytesToHexUpper converts bytes to an uppercase hex string without prefix,
// the canonical form for block hashes and public keys on this network.
func BytesToHexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// HexToFixed decodes a hex string into a fixed-size destination. It fails if
// the decoded length does not match.
func HexToFixed(s string, dst []byte) error {
	raw, err := HexToBytes(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("hex length %d, want %d", len(raw), len(dst))
	}
	copy(dst, raw)
	return nil
}

// PadLeft pads a byte slice with zeros on the left to reach the specified length.
func PadLeft(b []byte, length int) []byte {
	if len(b) >= length {
		return b
	}
	result := make([]byte, length)
	copy(result[length-len(b):], b)
	return result
}
