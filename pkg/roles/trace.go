// Package roles implements the three-role learning protocol: a
// Generator answers tasks with playbook context, a Reflector classifies
// how the cited strategies performed, and a Curator turns the
// reflection into playbook delta operations. Roles only propose; the
// orchestrator commits.
package roles

import (
	"time"

	"github.com/google/uuid"

	"github.com/acelabs/ace-go/pkg/errors"
	"github.com/acelabs/ace-go/pkg/playbook"
)

// AttemptState is a phase in one task attempt's lifecycle.
type AttemptState string

const (
	StateGenerating AttemptState = "GENERATING"
	StateEvaluating AttemptState = "EVALUATING"
	StateReflecting AttemptState = "REFLECTING"
	StateCurating   AttemptState = "CURATING"
	StateCommitted  AttemptState = "COMMITTED"
	StateFailed     AttemptState = "FAILED"
)

// next returns the state that legally follows s on the success path.
func (s AttemptState) next() AttemptState {
	switch s {
	case StateGenerating:
		return StateEvaluating
	case StateEvaluating:
		return StateReflecting
	case StateReflecting:
		return StateCurating
	case StateCurating:
		return StateCommitted
	default:
		return StateFailed
	}
}

// Attempt tracks one pass through the role protocol.
type Attempt struct {
	ID        string
	State     AttemptState
	StartedAt time.Time

	// Err records the failure that moved the attempt to FAILED.
	Err error
}

// NewAttempt starts a new attempt in the GENERATING state.
func NewAttempt() *Attempt {
	return &Attempt{
		ID:        uuid.New().String(),
		State:     StateGenerating,
		StartedAt: time.Now().UTC(),
	}
}

// Advance moves the attempt to the next success-path state. Terminal
// states cannot advance.
func (a *Attempt) Advance() error {
	if a.State == StateCommitted || a.State == StateFailed {
		return errors.WithFields(
			errors.New(errors.InvalidInput, "attempt already terminal"),
			errors.Fields{"attempt_id": a.ID, "state": string(a.State)})
	}
	a.State = a.State.next()
	return nil
}

// Fail transitions the attempt to FAILED from any state, recording err.
func (a *Attempt) Fail(err error) {
	a.State = StateFailed
	a.Err = err
}

// Terminal reports whether the attempt has ended.
func (a *Attempt) Terminal() bool {
	return a.State == StateCommitted || a.State == StateFailed
}

// GeneratorTrace is the Generator's complete output for one attempt,
// and the Reflector's primary input.
type GeneratorTrace struct {
	AttemptID string `json:"attempt_id"`
	Question  string `json:"question"`
	Context   string `json:"context,omitempty"`

	Reasoning string `json:"reasoning"`
	Answer    string `json:"answer"`

	// CitedBullets are the playbook ids the model referenced, in order
	// of first appearance, verified against the supplied snapshot.
	CitedBullets []string `json:"cited_bullets,omitempty"`

	// InvalidCitations are referenced ids absent from the snapshot.
	// They are surfaced to the Reflector as data-quality flags, never
	// silently dropped.
	InvalidCitations []string `json:"invalid_citations,omitempty"`

	SnapshotVersion int64  `json:"snapshot_version"`
	ModelID         string `json:"model_id,omitempty"`
}

// VerdictLabel classifies an evaluated attempt.
type VerdictLabel string

const (
	VerdictSuccess VerdictLabel = "success"
	VerdictFailure VerdictLabel = "failure"
	VerdictPartial VerdictLabel = "partial"
)

// Verdict is the Environment Evaluator's judgment of one attempt.
type Verdict struct {
	Label       VerdictLabel `json:"label"`
	Score       float64      `json:"score"`
	GroundTruth string       `json:"ground_truth,omitempty"`
	Confidence  float64      `json:"confidence"`

	// Advisory marks heuristic verdicts not backed by a ground-truth
	// judge; downstream curation biases toward TAG-only changes.
	Advisory bool `json:"advisory,omitempty"`
}

// LowConfidence reports whether curation should avoid destructive ops.
func (v Verdict) LowConfidence() bool {
	return v.Advisory || v.Confidence < 0.5
}

// StrategyFeedback classifies one cited bullet's contribution.
type StrategyFeedback struct {
	BulletID string           `json:"bullet_id"`
	Outcome  playbook.Outcome `json:"outcome"`
	Reason   string           `json:"reason,omitempty"`

	// Misleading marks a bullet whose wording actively misled the
	// Generator; RevisedContent, when present, is the suggested fix.
	Misleading     bool   `json:"misleading,omitempty"`
	RevisedContent string `json:"revised_content,omitempty"`
}

// Insight is a newly observed strategy candidate not tied to an
// existing bullet.
type Insight struct {
	Content    string  `json:"content"`
	Section    string  `json:"section"`
	Confidence float64 `json:"confidence"`
}

// Reflection is the Reflector's complete output for one attempt, and
// the Curator's primary input.
type Reflection struct {
	AttemptID string             `json:"attempt_id"`
	Feedback  []StrategyFeedback `json:"feedback,omitempty"`
	RootCause string             `json:"root_cause,omitempty"`
	Insights  []Insight          `json:"insights,omitempty"`

	// LowConfidence propagates an advisory or weak verdict.
	LowConfidence bool `json:"low_confidence,omitempty"`

	// DataQualityFlags carries the Generator's invalid citations.
	DataQualityFlags []string `json:"data_quality_flags,omitempty"`

	ProcessedAt time.Time `json:"processed_at"`
}
