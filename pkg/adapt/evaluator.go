// Package adapt orchestrates the learning cycle: offline over labeled
// datasets and online per live request. Both drivers sequence
// Generator, Environment evaluation, Reflector, and Curator, then
// commit the curated deltas to the playbook store.
package adapt

import (
	"context"
	"strings"

	"github.com/acelabs/ace-go/pkg/roles"
)

// Evaluator supplies the environment's verdict for one attempt.
// groundTruth is the labeled answer when the caller has one, empty
// otherwise. Implementations may be remote judges or local heuristics.
type Evaluator interface {
	Evaluate(ctx context.Context, trace *roles.GeneratorTrace, groundTruth string) (roles.Verdict, error)
}

// ExactMatchEvaluator judges an attempt by normalized string equality
// with the ground truth.
type ExactMatchEvaluator struct{}

func (ExactMatchEvaluator) Evaluate(ctx context.Context, trace *roles.GeneratorTrace, groundTruth string) (roles.Verdict, error) {
	if normalizeAnswer(trace.Answer) == normalizeAnswer(groundTruth) {
		return roles.Verdict{
			Label:       roles.VerdictSuccess,
			Score:       1,
			GroundTruth: groundTruth,
			Confidence:  1,
		}, nil
	}
	return roles.Verdict{
		Label:       roles.VerdictFailure,
		Score:       0,
		GroundTruth: groundTruth,
		Confidence:  1,
	}, nil
}

func normalizeAnswer(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// StaticEvaluator always returns the same verdict.
type StaticEvaluator struct {
	Verdict roles.Verdict
}

func (s StaticEvaluator) Evaluate(ctx context.Context, trace *roles.GeneratorTrace, groundTruth string) (roles.Verdict, error) {
	v := s.Verdict
	if v.GroundTruth == "" {
		v.GroundTruth = groundTruth
	}
	return v, nil
}

// advisoryVerdict is the fallback when no evaluator is available: the
// attempt is treated as weakly successful and curation stays
// conservative.
func advisoryVerdict() roles.Verdict {
	return roles.Verdict{
		Label:      roles.VerdictPartial,
		Score:      0.5,
		Confidence: 0,
		Advisory:   true,
	}
}
