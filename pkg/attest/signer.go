package attest

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Signature is a 65-byte r || s || v recoverable signature (v = 27/28).
type Signature [65]byte

// Hex returns the 0x-prefixed hex form.
func (s Signature) Hex() string {
	return "0x" + hex.EncodeToString(s[:])
}

// ParseSignature parses a 0x-prefixed or bare 130-hex-digit signature.
func ParseSignature(s string) (Signature, error) {
	var sig Signature
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 130 {
		return sig, fmt.Errorf("signature must be 65 bytes, got %d hex chars", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return sig, fmt.Errorf("invalid signature hex: %w", err)
	}
	copy(sig[:], b)
	return sig, nil
}

// Signer holds the attestation signing key and the fixed domain.
// The key is read-only after construction and safe to share across
// concurrent runs for different source keys.
type Signer struct {
	key    *secp256k1.PrivateKey
	addr   Address
	domain Domain
}

// NewSigner builds a signer from a hex-encoded secp256k1 private key.
// Construction fails on a zero verifying-contract address: a signature
// bound to the zero domain verifies nowhere and hides misconfiguration.
func NewSigner(privKeyHex string, domain Domain) (*Signer, error) {
	if domain.VerifyingContract.IsZero() {
		return nil, fmt.Errorf("verifying contract address must not be zero")
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	key := secp256k1.PrivKeyFromBytes(raw)
	return &Signer{
		key:    key,
		addr:   pubKeyAddress(key.PubKey()),
		domain: domain,
	}, nil
}

// Address returns the signer's account address.
func (s *Signer) Address() Address {
	return s.addr
}

// Domain returns the signer's fixed domain.
func (s *Signer) Domain() Domain {
	return s.domain
}

// Sign produces the recoverable signature over the typed-data digest of
// msg. The message's attester field must be the signer's own address;
// signing on behalf of another attester is always a caller bug.
// Signatures are deterministic (RFC 6979 nonces) for identical inputs.
func (s *Signer) Sign(msg Message) (Signature, error) {
	if msg.Attester != s.addr {
		return Signature{}, fmt.Errorf("message attester %s is not the signing key's address %s", msg.Attester.Hex(), s.addr.Hex())
	}
	digest := SigningDigest(s.domain, msg)
	return s.signDigest(digest), nil
}

func (s *Signer) signDigest(digest Hash32) Signature {
	// SignCompact yields header || r || s with header = 27 + recid
	// (+4 when the pubkey is compressed). Rewrap into r || s || v.
	compact := secpecdsa.SignCompact(s.key, digest[:], false)
	var sig Signature
	copy(sig[0:32], compact[1:33])
	copy(sig[32:64], compact[33:65])
	sig[64] = compact[0]
	return sig
}

// RecoverSigner recovers the address that produced sig over digest.
func RecoverSigner(digest Hash32, sig Signature) (Address, error) {
	compact := make([]byte, 65)
	compact[0] = sig[64]
	copy(compact[1:33], sig[0:32])
	copy(compact[33:65], sig[32:64])

	pub, _, err := secpecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return Address{}, fmt.Errorf("signature recovery failed: %w", err)
	}
	return pubKeyAddress(pub), nil
}

// pubKeyAddress derives the account address: last 20 bytes of the
// Keccak-256 of the uncompressed public key without its 0x04 prefix.
func pubKeyAddress(pub *secp256k1.PublicKey) Address {
	raw := pub.SerializeUncompressed()
	h := Keccak256(raw[1:])
	var a Address
	copy(a[:], h[12:])
	return a
}
