package counter

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/quorumworks/steward/pkg/attest"
	"github.com/quorumworks/steward/pkg/ledger"
)

type acceptingLedger struct {
	calls int
}

func (l *acceptingLedger) Attest(ledger.Request) (string, error) {
	l.calls++
	return "uid-1", nil
}

type rejectingLedger struct {
	err error
}

func (l *rejectingLedger) Attest(ledger.Request) (string, error) {
	return "", l.err
}

func addr(t *testing.T, s string) attest.Address {
	t.Helper()
	a, err := attest.ParseAddress(s)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func forwardMsg(deadline time.Time) attest.Message {
	return attest.Message{Deadline: uint64(deadline.Unix())}
}

func TestNewRejectsNilLedger(t *testing.T) {
	if _, err := New(attest.Address{}, nil); !errors.Is(err, ErrNilLedger) {
		t.Fatalf("expected ErrNilLedger, got %v", err)
	}
}

func TestForwardIncrementsOnSuccess(t *testing.T) {
	led := &acceptingLedger{}
	c, err := New(addr(t, "0x0000000000000000000000000000000000000001"), led)
	if err != nil {
		t.Fatal(err)
	}
	submitter := addr(t, "0x0000000000000000000000000000000000000002")
	deadline := time.Now().Add(time.Hour)

	uid, err := c.ForwardAttestation(forwardMsg(deadline), attest.Signature{}, submitter, deadline)
	if err != nil {
		t.Fatal(err)
	}
	if uid != "uid-1" {
		t.Fatalf("expected uid-1, got %s", uid)
	}
	if c.GetCount(submitter).Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected count 1, got %s", c.GetCount(submitter))
	}
	if led.calls != 1 {
		t.Fatalf("expected 1 ledger call, got %d", led.calls)
	}
}

func TestForwardRollsBackOnRejection(t *testing.T) {
	reject := errors.New("bad signature")
	c, err := New(attest.Address{}, &rejectingLedger{err: reject})
	if err != nil {
		t.Fatal(err)
	}
	submitter := addr(t, "0x0000000000000000000000000000000000000002")
	controller := attest.Address{}
	_ = c.SetActive(controller, submitter, true)
	deadline := time.Now().Add(time.Hour)

	_, fwdErr := c.ForwardAttestation(forwardMsg(deadline), attest.Signature{}, submitter, deadline)
	if !errors.Is(fwdErr, reject) {
		t.Fatalf("ledger rejection must propagate unmodified, got %v", fwdErr)
	}

	count, active := c.GetInfo(submitter)
	if count.Sign() != 0 {
		t.Fatalf("counter must be unchanged after rejection, got %s", count)
	}
	if !active {
		t.Fatal("active flag must survive the rollback")
	}
}

func TestForwardDeadlineMismatch(t *testing.T) {
	c, _ := New(attest.Address{}, &acceptingLedger{})
	deadline := time.Now().Add(time.Hour)
	msg := forwardMsg(deadline.Add(time.Minute))

	_, err := c.ForwardAttestation(msg, attest.Signature{}, attest.Address{}, deadline)
	if !errors.Is(err, ErrDeadlineMismatch) {
		t.Fatalf("expected ErrDeadlineMismatch, got %v", err)
	}
}

func TestForwardOverflowReverts(t *testing.T) {
	led := &acceptingLedger{}
	c, _ := New(attest.Address{}, led)
	submitter := addr(t, "0x0000000000000000000000000000000000000002")

	// Seed the word at the ceiling directly.
	saturated, err := Pack(true, new(big.Int).Set(MaxCount))
	if err != nil {
		t.Fatal(err)
	}
	c.words[submitter] = saturated

	deadline := time.Now().Add(time.Hour)
	_, fwdErr := c.ForwardAttestation(forwardMsg(deadline), attest.Signature{}, submitter, deadline)
	if !errors.Is(fwdErr, ErrCounterOverflow) {
		t.Fatalf("expected ErrCounterOverflow, got %v", fwdErr)
	}
	if led.calls != 0 {
		t.Fatal("overflow must revert before forwarding")
	}
	if c.GetCount(submitter).Cmp(MaxCount) != 0 {
		t.Fatal("saturated count must not change")
	}
}

func TestSetActiveControllerOnly(t *testing.T) {
	controller := addr(t, "0x0000000000000000000000000000000000000001")
	outsider := addr(t, "0x0000000000000000000000000000000000000009")
	signer := addr(t, "0x0000000000000000000000000000000000000002")

	c, _ := New(controller, &acceptingLedger{})

	if err := c.SetActive(outsider, signer, true); !errors.Is(err, ErrNotController) {
		t.Fatalf("expected ErrNotController, got %v", err)
	}
	if err := c.SetActive(controller, signer, true); err != nil {
		t.Fatal(err)
	}
	if !c.IsActive(signer) {
		t.Fatal("signer should be active")
	}
}

func TestSetActivePreservesCount(t *testing.T) {
	controller := addr(t, "0x0000000000000000000000000000000000000001")
	signer := addr(t, "0x0000000000000000000000000000000000000002")
	c, _ := New(controller, &acceptingLedger{})

	deadline := time.Now().Add(time.Hour)
	for i := 0; i < 3; i++ {
		if _, err := c.ForwardAttestation(forwardMsg(deadline), attest.Signature{}, signer, deadline); err != nil {
			t.Fatal(err)
		}
	}

	_ = c.SetActive(controller, signer, true)
	_ = c.SetActive(controller, signer, false)
	_ = c.SetActive(controller, signer, true)

	count, active := c.GetInfo(signer)
	if count.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("toggles must not alter the count, got %s", count)
	}
	if !active {
		t.Fatal("expected final flag true")
	}
}

func TestImplicitZeroEntry(t *testing.T) {
	c, _ := New(attest.Address{}, &acceptingLedger{})
	unknown := addr(t, "0x00000000000000000000000000000000000000ff")

	count, active := c.GetInfo(unknown)
	if count.Sign() != 0 || active {
		t.Fatal("first reference must observe the zero value")
	}
}
