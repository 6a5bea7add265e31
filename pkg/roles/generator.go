package roles

import (
	"context"

	"github.com/acelabs/ace-go/pkg/errors"
	"github.com/acelabs/ace-go/pkg/gateway"
	"github.com/acelabs/ace-go/pkg/logging"
	"github.com/acelabs/ace-go/pkg/playbook"
)

// Generator produces an answer to a task with playbook context
// injected, recording which strategies the model cited. Pure read: it
// never mutates the playbook.
type Generator struct {
	gw            *gateway.Gateway
	maxStrategies int
}

// NewGenerator creates a Generator. maxStrategies caps how many bullets
// are injected into the prompt; values below one default to 20.
func NewGenerator(gw *gateway.Gateway, maxStrategies int) *Generator {
	if maxStrategies < 1 {
		maxStrategies = 20
	}
	return &Generator{gw: gw, maxStrategies: maxStrategies}
}

type generatorPayload struct {
	Reasoning string `json:"reasoning" validate:"required"`
	Answer    string `json:"answer" validate:"required"`
}

// Execute answers the question against the given playbook snapshot.
// Citations of ids absent from the snapshot are recorded as
// InvalidCitations on the trace, not dropped.
func (g *Generator) Execute(ctx context.Context, attemptID, question, extra string, snap *playbook.Snapshot) (*GeneratorTrace, error) {
	logger := logging.GetLogger()
	ctx = logging.WithAttemptID(ctx, attemptID)

	if question == "" {
		return nil, errors.New(errors.InvalidInput, "question is required")
	}

	block := playbook.BuildContextBlock(snap, g.maxStrategies)
	prompt := generatorPrompt(question, extra, block)

	var payload generatorPayload
	if err := g.gw.GenerateStructured(ctx, prompt, &payload); err != nil {
		return nil, err
	}

	trace := &GeneratorTrace{
		AttemptID: attemptID,
		Question:  question,
		Context:   extra,
		Reasoning: payload.Reasoning,
		Answer:    payload.Answer,
		ModelID:   g.gw.ModelID(),
	}
	if snap != nil {
		trace.SnapshotVersion = snap.Version
	}

	for _, id := range playbook.ExtractCitations(payload.Reasoning + "\n" + payload.Answer) {
		known := false
		if snap != nil {
			_, known = snap.Bullet(id)
		}
		if known {
			trace.CitedBullets = append(trace.CitedBullets, id)
		} else {
			trace.InvalidCitations = append(trace.InvalidCitations, id)
		}
	}
	if len(trace.InvalidCitations) > 0 {
		logger.Warn(ctx, "generator cited %d unknown strategy ids: %v",
			len(trace.InvalidCitations), trace.InvalidCitations)
	}

	return trace, nil
}
