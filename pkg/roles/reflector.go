package roles

import (
	"context"
	"time"

	"github.com/acelabs/ace-go/pkg/gateway"
	"github.com/acelabs/ace-go/pkg/logging"
	"github.com/acelabs/ace-go/pkg/playbook"
)

// Reflector analyzes a completed attempt against its verdict and
// classifies how each cited strategy performed. Pure: no playbook
// mutation.
type Reflector struct {
	gw *gateway.Gateway
}

// NewReflector creates a Reflector.
func NewReflector(gw *gateway.Gateway) *Reflector {
	return &Reflector{gw: gw}
}

type reflectorPayload struct {
	Feedback []struct {
		BulletID       string  `json:"bullet_id" validate:"required"`
		Outcome        string  `json:"outcome" validate:"required,oneof=helpful harmful neutral"`
		Reason         string  `json:"reason"`
		Misleading     bool    `json:"misleading"`
		RevisedContent string  `json:"revised_content"`
	} `json:"feedback" validate:"dive"`
	RootCause string `json:"root_cause"`
	Insights  []struct {
		Content    string  `json:"content" validate:"required"`
		Section    string  `json:"section"`
		Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	} `json:"insights" validate:"dive"`
}

// Execute classifies the trace's cited strategies under the given
// verdict. Classifications of ids the trace never cited are discarded
// with a warning; the trace's invalid citations propagate as
// data-quality flags.
func (r *Reflector) Execute(ctx context.Context, trace *GeneratorTrace, verdict Verdict, snap *playbook.Snapshot) (*Reflection, error) {
	logger := logging.GetLogger()
	ctx = logging.WithAttemptID(ctx, trace.AttemptID)

	var cited []playbook.Bullet
	citedSet := make(map[string]bool, len(trace.CitedBullets))
	for _, id := range trace.CitedBullets {
		citedSet[id] = true
		if snap != nil {
			if b, ok := snap.Bullet(id); ok {
				cited = append(cited, b)
			}
		}
	}

	prompt := reflectorPrompt(trace, verdict, cited)

	var payload reflectorPayload
	if err := r.gw.GenerateStructured(ctx, prompt, &payload); err != nil {
		return nil, err
	}

	reflection := &Reflection{
		AttemptID:        trace.AttemptID,
		RootCause:        payload.RootCause,
		LowConfidence:    verdict.LowConfidence(),
		DataQualityFlags: trace.InvalidCitations,
		ProcessedAt:      time.Now().UTC(),
	}

	for _, fb := range payload.Feedback {
		if !citedSet[fb.BulletID] {
			logger.Warn(ctx, "reflector classified uncited bullet %s, discarding", fb.BulletID)
			continue
		}
		reflection.Feedback = append(reflection.Feedback, StrategyFeedback{
			BulletID:       fb.BulletID,
			Outcome:        playbook.Outcome(fb.Outcome),
			Reason:         fb.Reason,
			Misleading:     fb.Misleading,
			RevisedContent: fb.RevisedContent,
		})
	}
	for _, in := range payload.Insights {
		section := in.Section
		if section == "" {
			section = "strategies"
		}
		reflection.Insights = append(reflection.Insights, Insight{
			Content:    in.Content,
			Section:    section,
			Confidence: in.Confidence,
		})
	}

	return reflection, nil
}
