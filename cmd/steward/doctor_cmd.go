package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/quorumworks/steward/pkg/attest"
	"github.com/quorumworks/steward/pkg/config"
	"github.com/quorumworks/steward/pkg/contracts"
	"github.com/quorumworks/steward/pkg/ledger"
)

// runDoctorCmd implements `steward doctor`: configuration sanity
// checks before an unattended deployment.
//
// Exit codes:
//
//	0 = all checks pass
//	1 = one or more checks failed
func runDoctorCmd(stdout io.Writer) int {
	type checkResult struct {
		Name   string
		Status string // "ok", "warn", "fail"
		Detail string
	}

	cfg := config.Load()
	var results []checkResult
	allOK := true

	results = append(results, checkResult{
		Name:   "go_runtime",
		Status: "ok",
		Detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	})

	if cfg.SignerPrivateKey == "" {
		results = append(results, checkResult{"signer_key", "fail", "SIGNER_PRIVATE_KEY not set"})
		allOK = false
	} else if _, err := attest.NewSigner(cfg.SignerPrivateKey, attest.Domain{
		Name: "AttestationLedger", Version: "1", ChainID: cfg.ChainID,
		VerifyingContract: attest.Address{0x01},
	}); err != nil {
		results = append(results, checkResult{"signer_key", "fail", "key does not parse"})
		allOK = false
	} else {
		results = append(results, checkResult{"signer_key", "ok", "parses"})
	}

	// Sign → attest → verify round trip on a throwaway in-memory
	// ledger, catching crypto or chain regressions before a deploy.
	if cfg.SignerPrivateKey != "" {
		if reason, err := ledgerSelfTest(*cfg); err != nil {
			results = append(results, checkResult{"ledger_chain", "fail", err.Error()})
			allOK = false
		} else if reason != "" {
			results = append(results, checkResult{"ledger_chain", "fail", reason})
			allOK = false
		} else {
			results = append(results, checkResult{"ledger_chain", "ok", "sign/attest/verify round trip"})
		}
	}

	if _, err := attest.ParseAddress(cfg.VerifyingContract); err != nil {
		results = append(results, checkResult{"verifying_contract", "fail", err.Error()})
		allOK = false
	} else {
		results = append(results, checkResult{"verifying_contract", "ok", cfg.VerifyingContract})
	}

	if _, err := attest.ParseHash32(cfg.SchemaUID); err != nil {
		results = append(results, checkResult{"schema_uid", "fail", err.Error()})
		allOK = false
	} else {
		results = append(results, checkResult{"schema_uid", "ok", cfg.SchemaUID})
	}

	if _, err := attest.ParseAddress(cfg.Recipient); err != nil {
		results = append(results, checkResult{"recipient", "fail", err.Error()})
		allOK = false
	} else {
		results = append(results, checkResult{"recipient", "ok", cfg.Recipient})
	}

	if store, err := openCheckpointStore(cfg); err != nil {
		results = append(results, checkResult{"checkpoint_store", "fail", err.Error()})
		allOK = false
	} else {
		_ = store
		results = append(results, checkResult{"checkpoint_store",
			"ok", fmt.Sprintf("%s: %s", cfg.CheckpointBackend, cfg.CheckpointDSN)})
	}

	if len(cfg.SourceKeys) == 0 {
		results = append(results, checkResult{"source_keys", "warn", "SOURCE_KEYS not set"})
	} else {
		results = append(results, checkResult{"source_keys",
			"ok", fmt.Sprintf("%d configured", len(cfg.SourceKeys))})
	}

	if cfg.FeedJWTSecret == "" {
		results = append(results, checkResult{"feed_auth", "warn", "FEED_JWT_SECRET not set, feed calls are unauthenticated"})
	} else {
		results = append(results, checkResult{"feed_auth", "ok", "set"})
	}

	if cfg.StrategyDir != "" {
		if _, err := os.Stat(cfg.StrategyDir); err != nil {
			results = append(results, checkResult{"strategy_dir", "fail", err.Error()})
			allOK = false
		} else {
			results = append(results, checkResult{"strategy_dir", "ok", cfg.StrategyDir})
		}
	}

	for _, r := range results {
		_, _ = fmt.Fprintf(stdout, "%-20s %-5s %s\n", r.Name, r.Status, r.Detail)
	}
	if !allOK {
		return 1
	}
	return 0
}

// ledgerSelfTest attests one synthetic request against a throwaway
// in-memory ledger and walks its hash chain. A non-empty reason means
// the chain verified false.
func ledgerSelfTest(cfg config.Config) (string, error) {
	domain := attest.Domain{
		Name: "AttestationLedger", Version: "1", ChainID: cfg.ChainID,
		VerifyingContract: attest.Address{0x01},
	}
	signer, err := attest.NewSigner(cfg.SignerPrivateKey, domain)
	if err != nil {
		return "", err
	}

	schema := attest.Hash32{0x01}
	l := ledger.New(domain)
	l.RegisterSchema(schema)

	msg, err := attest.BuildMessage(signer.Address(), attest.Request{
		SchemaUID:      schema,
		ItemID:         "doctor-self-test",
		SourceKey:      "doctor",
		Verdict:        contracts.VerdictAbstain,
		DecisionDigest: "self-test",
		Deadline:       time.Now().Add(time.Minute),
	})
	if err != nil {
		return "", err
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return "", err
	}
	if _, err := l.Attest(ledger.Request{Message: msg, Signature: sig}); err != nil {
		return "", err
	}
	if ok, reason := l.Verify(); !ok {
		return reason, nil
	}
	return "", nil
}
