package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/quorumworks/steward/pkg/contracts"
)

// Filter gates proposals before the decision engine runs. Cheap list
// checks go first; the optional CEL expression runs only on survivors,
// so a denied origin never costs an engine call or a CEL evaluation.
type Filter struct {
	allow map[string]bool
	deny  map[string]bool
	prg   cel.Program
}

// NewFilter builds the filter. An empty allow list admits every origin
// not denied; expr may be empty for list-only filtering. The CEL
// expression sees a `proposal` map and an integer `timestamp` and must
// evaluate to a bool.
func NewFilter(allow, deny []string, expr string) (*Filter, error) {
	f := &Filter{
		allow: make(map[string]bool, len(allow)),
		deny:  make(map[string]bool, len(deny)),
	}
	for _, a := range allow {
		f.allow[strings.ToLower(a)] = true
	}
	for _, d := range deny {
		f.deny[strings.ToLower(d)] = true
	}

	if expr != "" {
		env, err := cel.NewEnv(
			cel.Variable("proposal", cel.DynType),
			cel.Variable("timestamp", cel.IntType),
		)
		if err != nil {
			return nil, fmt.Errorf("create CEL environment: %w", err)
		}
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile filter expression: %w", issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("build filter program: %w", err)
		}
		f.prg = prg
	}
	return f, nil
}

// Admit reports whether the proposal may proceed, with a reason when
// it may not.
func (f *Filter) Admit(p contracts.Proposal) (bool, string) {
	origin := strings.ToLower(p.Origin)
	if f.deny[origin] {
		return false, fmt.Sprintf("origin %s is deny-listed", p.Origin)
	}
	if len(f.allow) > 0 && !f.allow[origin] {
		return false, fmt.Sprintf("origin %s is not allow-listed", p.Origin)
	}

	if f.prg == nil {
		return true, ""
	}

	input := map[string]any{
		"timestamp": time.Now().Unix(),
		"proposal": map[string]any{
			"id":         p.ID,
			"source_key": p.SourceKey,
			"origin":     p.Origin,
			"title":      p.Title,
			"body":       p.Body,
		},
	}
	out, _, err := f.prg.Eval(input)
	if err != nil {
		return false, fmt.Sprintf("filter expression error: %v", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, "filter expression did not yield a bool"
	}
	if !allowed {
		return false, "filter expression denied proposal"
	}
	return true, ""
}
