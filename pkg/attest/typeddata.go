// Package attest builds and signs the EIP-712 typed structured message
// that authorizes one attestation ledger write.
//
// The verifying ledger recomputes the identical structure and rejects
// any reordering, renaming, or omission of fields. In particular the
// message body's FIRST field is the attester's own address; dropping it
// is the classic integration defect, so the encoding lives in exactly
// one place here and is covered by fixture tests.
package attest

import (
	"math/big"

	"golang.org/x/crypto/sha3"
)

// Domain is the fixed EIP-712 domain for the attestation ledger proxy.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract Address
}

// Message is the attestation authorization body. Field order is
// load-bearing: the type string below and the encoding in StructHash
// must list attester first, then schema, recipient, expirationTime,
// revocable, refUID, data, value, deadline.
type Message struct {
	Attester       Address
	Schema         Hash32
	Recipient      Address
	ExpirationTime uint64
	Revocable      bool
	RefUID         Hash32
	Data           []byte
	Value          *big.Int
	Deadline       uint64
}

const (
	domainType  = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
	messageType = "Attest(address attester,bytes32 schema,address recipient,uint64 expirationTime,bool revocable,bytes32 refUID,bytes data,uint256 value,uint64 deadline)"
)

// Keccak256 returns the legacy Keccak-256 digest of the concatenation
// of the given byte slices.
func Keccak256(parts ...[]byte) Hash32 {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash32
	copy(out[:], h.Sum(nil))
	return out
}

// word left-pads b into a 32-byte ABI word.
func word(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func wordUint64(v uint64) []byte {
	return word(new(big.Int).SetUint64(v).Bytes())
}

func wordBool(v bool) []byte {
	if v {
		return wordUint64(1)
	}
	return wordUint64(0)
}

// Separator computes the EIP-712 domain separator.
func (d Domain) Separator() Hash32 {
	typeHash := Keccak256([]byte(domainType))
	nameHash := Keccak256([]byte(d.Name))
	versionHash := Keccak256([]byte(d.Version))
	return Keccak256(
		typeHash[:],
		nameHash[:],
		versionHash[:],
		wordUint64(d.ChainID),
		word(d.VerifyingContract[:]),
	)
}

// StructHash computes the hash of the ABI-encoded message body in the
// exact field order the verifying ledger expects. Dynamic bytes are
// hashed per EIP-712.
func (m Message) StructHash() Hash32 {
	typeHash := Keccak256([]byte(messageType))
	dataHash := Keccak256(m.Data)
	value := m.Value
	if value == nil {
		value = big.NewInt(0)
	}
	return Keccak256(
		typeHash[:],
		word(m.Attester[:]),
		m.Schema[:],
		word(m.Recipient[:]),
		wordUint64(m.ExpirationTime),
		wordBool(m.Revocable),
		m.RefUID[:],
		dataHash[:],
		word(value.Bytes()),
		wordUint64(m.Deadline),
	)
}

// SigningDigest is the final digest signed by the attester:
// keccak256(0x1901 || domainSeparator || structHash).
func SigningDigest(d Domain, m Message) Hash32 {
	sep := d.Separator()
	sh := m.StructHash()
	return Keccak256([]byte{0x19, 0x01}, sep[:], sh[:])
}
