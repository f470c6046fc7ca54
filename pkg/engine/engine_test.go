package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quorumworks/steward/pkg/contracts"
)

func TestLLMEngineDecide(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req decideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Proposal.ID != "p1" || req.Strategy != "conservative" {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(decideResponse{
			Verdict:    contracts.VerdictApprove,
			Confidence: 0.85,
			Rationale:  "low treasury impact",
			Strategy:   "conservative",
		})
	}))
	defer srv.Close()

	e := NewLLMEngine(srv.URL, "conservative", 0)
	d, err := e.Decide(context.Background(), contracts.Proposal{ID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if d.Verdict != contracts.VerdictApprove || d.Confidence != 0.85 {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestLLMEngineRejectsBadConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(decideResponse{Verdict: contracts.VerdictApprove, Confidence: 1.5})
	}))
	defer srv.Close()

	e := NewLLMEngine(srv.URL, "x", 0)
	if _, err := e.Decide(context.Background(), contracts.Proposal{ID: "p1"}); err == nil {
		t.Fatal("expected error for out-of-range confidence")
	}
}

func TestLLMEngineErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewLLMEngine(srv.URL, "x", 0)
	if _, err := e.Decide(context.Background(), contracts.Proposal{ID: "p1"}); err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestRulesEngineFirstMatchWins(t *testing.T) {
	e := NewRulesEngine([]Rule{
		{Keyword: "treasury", Verdict: contracts.VerdictReject, Confidence: 0.9},
		{Keyword: "grant", Verdict: contracts.VerdictApprove, Confidence: 0.8},
	})

	d, err := e.Decide(context.Background(), contracts.Proposal{ID: "p1", Title: "Treasury grant request"})
	if err != nil {
		t.Fatal(err)
	}
	if d.Verdict != contracts.VerdictReject {
		t.Fatalf("expected first rule to win, got %s", d.Verdict)
	}
}

func TestRulesEngineNoMatch(t *testing.T) {
	e := NewRulesEngine(nil)
	d, err := e.Decide(context.Background(), contracts.Proposal{ID: "p1", Title: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if d.Verdict != contracts.VerdictNoAction {
		t.Fatalf("expected NO_ACTION, got %s", d.Verdict)
	}
}
