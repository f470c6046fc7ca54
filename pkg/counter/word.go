// Package counter implements the per-signer attestation counter: one
// 256-bit word per signer, bit 255 holding the active flag and bits
// 0-254 holding a monotone attestation count. All mask/shift logic
// lives in Pack and Unpack; every entry point goes through them.
package counter

import (
	"fmt"
	"math/big"
)

const flagBit = 255

// MaxCount is the largest representable count, 2^255 - 1.
var MaxCount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), flagBit), big.NewInt(1))

// Pack encodes an active flag and a count into one word. The count
// must fit in bits 0-254.
func Pack(active bool, count *big.Int) (*big.Int, error) {
	if count.Sign() < 0 {
		return nil, fmt.Errorf("count must not be negative")
	}
	if count.Cmp(MaxCount) > 0 {
		return nil, fmt.Errorf("count %s exceeds maximum %s", count, MaxCount)
	}
	word := new(big.Int).Set(count)
	if active {
		word.SetBit(word, flagBit, 1)
	}
	return word, nil
}

// Unpack splits a word into its active flag and count.
func Unpack(word *big.Int) (bool, *big.Int) {
	active := word.Bit(flagBit) == 1
	count := new(big.Int).Set(word)
	count.SetBit(count, flagBit, 0)
	return active, count
}
