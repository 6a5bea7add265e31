package roles

import (
	"context"

	"github.com/acelabs/ace-go/pkg/gateway"
	"github.com/acelabs/ace-go/pkg/logging"
	"github.com/acelabs/ace-go/pkg/playbook"
)

// CuratorConfig tunes the curation policy.
type CuratorConfig struct {
	// RemovalThreshold is the harmful count at which a bullet becomes a
	// removal candidate. Zero disables REMOVE entirely.
	RemovalThreshold int

	// MinInsightConfidence filters which reflection insights become ADDs.
	MinInsightConfidence float64
}

// Curator turns a Reflection into an ordered batch of delta operations.
// The policy is deterministic; the gateway is consulted only to rewrite
// a misleading bullet when the reflection flagged one without proposing
// replacement wording. The Curator proposes, the orchestrator commits.
type Curator struct {
	gw  *gateway.Gateway
	cfg CuratorConfig
}

// NewCurator creates a Curator. gw may be nil, in which case flagged
// bullets without proposed rewrites keep their wording.
func NewCurator(gw *gateway.Gateway, cfg CuratorConfig) *Curator {
	if cfg.MinInsightConfidence <= 0 {
		cfg.MinInsightConfidence = 0.5
	}
	return &Curator{gw: gw, cfg: cfg}
}

type rewritePayload struct {
	Content string `json:"content" validate:"required"`
}

// Propose computes the delta batch for one reflection against the given
// snapshot. Ordering: TAGs first so counters are current when removal
// thresholds are checked, then UPDATEs, then ADDs, then REMOVEs.
//
// Under a low-confidence reflection the policy biases toward TAG-only
// output: no UPDATE, no REMOVE.
func (c *Curator) Propose(ctx context.Context, reflection *Reflection, snap *playbook.Snapshot) ([]playbook.DeltaOp, error) {
	logger := logging.GetLogger()
	ctx = logging.WithAttemptID(ctx, reflection.AttemptID)

	var tags, updates, adds, removes []playbook.DeltaOp

	helpfulByID := make(map[string]bool)
	harmfulByID := make(map[string]int)
	for _, fb := range reflection.Feedback {
		if fb.Outcome == playbook.OutcomeHelpful {
			helpfulByID[fb.BulletID] = true
		}
		if fb.Outcome == playbook.OutcomeHarmful {
			harmfulByID[fb.BulletID]++
		}
	}

	for _, fb := range reflection.Feedback {
		if snap == nil {
			break
		}
		if _, ok := snap.Bullet(fb.BulletID); !ok {
			logger.Warn(ctx, "skipping feedback for unknown bullet %s", fb.BulletID)
			continue
		}
		tags = append(tags, playbook.NewTag(fb.BulletID, fb.Outcome, reflection.AttemptID))

		if fb.Misleading && !reflection.LowConfidence {
			if op, ok := c.rewriteOp(ctx, snap, fb); ok {
				updates = append(updates, op)
			}
		}
	}

	for _, in := range reflection.Insights {
		if in.Confidence < c.cfg.MinInsightConfidence {
			continue
		}
		adds = append(adds, playbook.NewAdd(in.Section, in.Content, map[string]string{
			"source":     "reflection",
			"attempt_id": reflection.AttemptID,
		}))
	}

	if c.cfg.RemovalThreshold > 0 && !reflection.LowConfidence && snap != nil {
		for id, pending := range harmfulByID {
			// A countervailing helpful signal in the same reflection
			// vetoes removal.
			if helpfulByID[id] {
				continue
			}
			b, ok := snap.Bullet(id)
			if !ok {
				continue
			}
			if b.HarmfulCount+pending >= c.cfg.RemovalThreshold {
				removes = append(removes, playbook.NewRemove(id))
			}
		}
	}

	ops := make([]playbook.DeltaOp, 0, len(tags)+len(updates)+len(adds)+len(removes))
	ops = append(ops, tags...)
	ops = append(ops, updates...)
	ops = append(ops, adds...)
	ops = append(ops, removes...)
	return ops, nil
}

// rewriteOp builds the UPDATE for a misleading bullet. A reflection
// that already proposed replacement wording wins; otherwise the model
// is asked for one rewrite.
func (c *Curator) rewriteOp(ctx context.Context, snap *playbook.Snapshot, fb StrategyFeedback) (playbook.DeltaOp, bool) {
	if fb.RevisedContent != "" {
		return playbook.NewUpdate(fb.BulletID, fb.RevisedContent), true
	}
	if c.gw == nil {
		return playbook.DeltaOp{}, false
	}

	b, ok := snap.Bullet(fb.BulletID)
	if !ok {
		return playbook.DeltaOp{}, false
	}

	var payload rewritePayload
	if err := c.gw.GenerateStructured(ctx, rewritePrompt(b, fb.Reason), &payload); err != nil {
		logging.GetLogger().Warn(ctx, "rewrite of bullet %s failed: %v", fb.BulletID, err)
		return playbook.DeltaOp{}, false
	}
	return playbook.NewUpdate(fb.BulletID, payload.Content), true
}
