package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeStrategy(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadStrategy(t *testing.T) {
	dir := t.TempDir()
	writeStrategy(t, dir, "strategy_spacea.yaml", `
name: conservative
source_key: spaceA
confidence_threshold: 0.85
max_items_per_run: 10
dry_run: true
deny_origins:
  - "0xbad"
filter_expr: 'proposal.title.contains("treasury")'
`)

	p, err := LoadStrategy(dir, "spaceA")
	if err != nil {
		t.Fatalf("load strategy: %v", err)
	}
	if p.Name != "conservative" || p.SourceKey != "spaceA" {
		t.Errorf("unexpected identity: %q %q", p.Name, p.SourceKey)
	}
	if p.ConfidenceThreshold == nil || *p.ConfidenceThreshold != 0.85 {
		t.Errorf("threshold: %v", p.ConfidenceThreshold)
	}
	if p.DryRun == nil || !*p.DryRun {
		t.Error("dry_run should be set")
	}
	if len(p.DenyOrigins) != 1 || p.DenyOrigins[0] != "0xbad" {
		t.Errorf("deny origins: %v", p.DenyOrigins)
	}
}

func TestLoadStrategyDefaultsSourceKeyFromRequest(t *testing.T) {
	dir := t.TempDir()
	writeStrategy(t, dir, "strategy_spaceb.yaml", "name: plain\n")

	p, err := LoadStrategy(dir, "spaceB")
	if err != nil {
		t.Fatalf("load strategy: %v", err)
	}
	if p.SourceKey != "spaceB" {
		t.Errorf("source key should default to the requested key, got %q", p.SourceKey)
	}
}

func TestLoadStrategyMissing(t *testing.T) {
	if _, err := LoadStrategy(t.TempDir(), "nope"); err == nil {
		t.Fatal("expected error for missing strategy")
	}
}

func TestLoadStrategyValidation(t *testing.T) {
	dir := t.TempDir()

	writeStrategy(t, dir, "strategy_a.yaml", "confidence_threshold: 1.5\n")
	if _, err := LoadStrategy(dir, "a"); err == nil {
		t.Error("out-of-range threshold should be rejected")
	}

	writeStrategy(t, dir, "strategy_b.yaml", "engine: oracle\n")
	if _, err := LoadStrategy(dir, "b"); err == nil {
		t.Error("unknown engine should be rejected")
	}

	writeStrategy(t, dir, "strategy_c.yaml", "engine: rules\n")
	if _, err := LoadStrategy(dir, "c"); err == nil {
		t.Error("rules engine without rules should be rejected")
	}
}

func TestLoadAllStrategies(t *testing.T) {
	dir := t.TempDir()
	writeStrategy(t, dir, "strategy_spacea.yaml", "name: a\nsource_key: spaceA\n")
	writeStrategy(t, dir, "strategy_spaceb.yaml", `
name: b
engine: rules
rules:
  - keyword: upgrade
    verdict: APPROVE
    confidence: 0.9
`)
	writeStrategy(t, dir, "notes.yaml", "name: ignored\n")

	profiles, err := LoadAllStrategies(dir)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if _, ok := profiles["spaceA"]; !ok {
		t.Error("missing spaceA profile")
	}
	// Key falls back to the filename when the file omits source_key.
	b, ok := profiles["spaceb"]
	if !ok {
		t.Fatal("missing spaceb profile")
	}
	if len(b.Rules) != 1 || b.Rules[0].Verdict != "APPROVE" {
		t.Errorf("rules: %+v", b.Rules)
	}
}
