package attest

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 20-byte account address.
type Address [20]byte

// ParseAddress parses a 0x-prefixed or bare 40-hex-digit address.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 40 {
		return a, fmt.Errorf("address must be 20 bytes, got %d hex chars", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid address hex: %w", err)
	}
	copy(a[:], b)
	return a, nil
}

// Hex returns the 0x-prefixed lowercase hex form.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether the address is the zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Hash32 is a 32-byte value (schema UID, ref UID, struct hash).
type Hash32 [32]byte

// ParseHash32 parses a 0x-prefixed or bare 64-hex-digit value.
func ParseHash32(s string) (Hash32, error) {
	var h Hash32
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 64 {
		return h, fmt.Errorf("hash must be 32 bytes, got %d hex chars", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// Hex returns the 0x-prefixed lowercase hex form.
func (h Hash32) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}
