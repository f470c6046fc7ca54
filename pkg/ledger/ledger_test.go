package ledger

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/quorumworks/steward/pkg/attest"
	"github.com/quorumworks/steward/pkg/contracts"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testSetup(t *testing.T) (*AttestationLedger, *attest.Signer, attest.Request) {
	t.Helper()
	contract, _ := attest.ParseAddress("0x1111111111111111111111111111111111111111")
	domain := attest.Domain{Name: "AttestationLedger", Version: "1", ChainID: 1, VerifyingContract: contract}

	signer, err := attest.NewSigner(testKey, domain)
	if err != nil {
		t.Fatal(err)
	}

	schema, _ := attest.ParseHash32("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	l := New(domain)
	l.RegisterSchema(schema)

	req := attest.Request{
		SchemaUID:      schema,
		ItemID:         "p1",
		SourceKey:      "spaceA",
		Verdict:        contracts.VerdictApprove,
		DecisionDigest: "digest",
		Deadline:       time.Now().Add(time.Hour),
	}
	return l, signer, req
}

func signedRequest(t *testing.T, signer *attest.Signer, req attest.Request) Request {
	t.Helper()
	msg, err := attest.BuildMessage(signer.Address(), req)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatal(err)
	}
	return Request{Message: msg, Signature: sig}
}

func TestLedgerAttestAppends(t *testing.T) {
	l, signer, req := testSetup(t)

	uid, err := l.Attest(signedRequest(t, signer, req))
	if err != nil {
		t.Fatal(err)
	}
	if uid == "" {
		t.Fatal("expected non-empty uid")
	}
	if l.Length() != 1 {
		t.Fatalf("expected 1 entry, got %d", l.Length())
	}
}

func TestLedgerRejectsUnknownSchema(t *testing.T) {
	l, signer, req := testSetup(t)
	req.SchemaUID, _ = attest.ParseHash32("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	_, err := l.Attest(signedRequest(t, signer, req))
	if !errors.Is(err, ErrUnknownSchema) {
		t.Fatalf("expected ErrUnknownSchema, got %v", err)
	}
}

func TestLedgerRejectsExpiredDeadline(t *testing.T) {
	l, signer, req := testSetup(t)
	req.Deadline = time.Now().Add(-time.Minute)

	_, err := l.Attest(signedRequest(t, signer, req))
	if !errors.Is(err, ErrExpiredDeadline) {
		t.Fatalf("expected ErrExpiredDeadline, got %v", err)
	}
}

func TestLedgerRejectsTamperedSignature(t *testing.T) {
	l, signer, req := testSetup(t)
	signed := signedRequest(t, signer, req)
	signed.Signature[3] ^= 0xff

	_, err := l.Attest(signed)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestLedgerRejectsTamperedMessage(t *testing.T) {
	l, signer, req := testSetup(t)
	signed := signedRequest(t, signer, req)
	signed.Message.Data = append([]byte{}, signed.Message.Data...)
	signed.Message.Data[0] ^= 0x01

	_, err := l.Attest(signed)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestLedgerActivePolicy(t *testing.T) {
	l, signer, req := testSetup(t)
	l.SetActivePolicy(func(attest.Address) bool { return false })

	_, err := l.Attest(signedRequest(t, signer, req))
	if !errors.Is(err, ErrInactiveAttester) {
		t.Fatalf("expected ErrInactiveAttester, got %v", err)
	}

	l.SetActivePolicy(func(attest.Address) bool { return true })
	if _, err := l.Attest(signedRequest(t, signer, req)); err != nil {
		t.Fatal(err)
	}
}

func TestLedgerChainIntegrity(t *testing.T) {
	l, signer, req := testSetup(t)

	for _, id := range []string{"p1", "p2", "p3"} {
		req.ItemID = id
		if _, err := l.Attest(signedRequest(t, signer, req)); err != nil {
			t.Fatal(err)
		}
	}

	ok, reason := l.Verify()
	if !ok {
		t.Fatalf("expected valid chain, got: %s", reason)
	}

	e1, _ := l.Get(1)
	e2, _ := l.Get(2)
	if e2.PrevHash != e1.ContentHash {
		t.Fatal("second entry prev_hash should match first content_hash")
	}
	if l.Head() == "genesis" {
		t.Fatal("head should advance after appends")
	}
}

func TestLedgerVerifyDetectsMutatedData(t *testing.T) {
	l, signer, req := testSetup(t)

	for _, id := range []string{"p1", "p2"} {
		req.ItemID = id
		if _, err := l.Attest(signedRequest(t, signer, req)); err != nil {
			t.Fatal(err)
		}
	}

	// Rewrite a stored entry's payload in place; the prev-hash links
	// are untouched, so only the recomputed content hash can catch it.
	l.entries[0].Data = []byte(`{"item_id":"forged"}`)

	ok, reason := l.Verify()
	if ok {
		t.Fatal("mutated entry data must break verification")
	}
	if reason != "entry 1 content hash mismatch" {
		t.Fatalf("unexpected reason: %s", reason)
	}
}

func TestLedgerVerifyDetectsMutatedSignature(t *testing.T) {
	l, signer, req := testSetup(t)
	if _, err := l.Attest(signedRequest(t, signer, req)); err != nil {
		t.Fatal(err)
	}

	l.entries[0].Signature = "0x" + strings.Repeat("ab", 65)

	if ok, _ := l.Verify(); ok {
		t.Fatal("mutated signature must break verification")
	}
}

func TestLedgerGetNotFound(t *testing.T) {
	l, _, _ := testSetup(t)
	if _, err := l.Get(99); err == nil {
		t.Fatal("expected error for missing entry")
	}
}

func TestEntryRecordRoundTrip(t *testing.T) {
	l, signer, req := testSetup(t)
	req.SubmissionReference = "sub-p1"

	uid, err := l.Attest(signedRequest(t, signer, req))
	if err != nil {
		t.Fatal(err)
	}

	entry, err := l.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := entry.Record()
	if err != nil {
		t.Fatalf("decode record: %v", err)
	}

	if rec.UID != uid {
		t.Errorf("uid: %s vs %s", rec.UID, uid)
	}
	if rec.SignerAddress != signer.Address().Hex() {
		t.Errorf("signer address: %s", rec.SignerAddress)
	}
	if rec.ItemID != "p1" || rec.SourceKey != "spaceA" {
		t.Errorf("identity: %s %s", rec.ItemID, rec.SourceKey)
	}
	if rec.Verdict != contracts.VerdictApprove {
		t.Errorf("verdict: %s", rec.Verdict)
	}
	if rec.DecisionDigest != "digest" || rec.SubmissionReference != "sub-p1" {
		t.Errorf("payload: %s %s", rec.DecisionDigest, rec.SubmissionReference)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("created_at should be set")
	}
}
