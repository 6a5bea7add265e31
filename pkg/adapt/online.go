package adapt

import (
	"context"

	"github.com/acelabs/ace-go/pkg/logging"
	"github.com/acelabs/ace-go/pkg/roles"
)

// SessionRecord is emitted after each committed attempt for attachment
// to the calling agent's own session log.
type SessionRecord struct {
	StrategyIDsCited  []string `json:"strategy_ids_cited"`
	ReflectionSummary string   `json:"reflection_summary"`
	DeltaRevisionSeq  int64    `json:"delta_revision_seq"`
}

// RecordSink receives session records. Storage is the caller's concern.
type RecordSink interface {
	Record(ctx context.Context, rec SessionRecord) error
}

// OnlineConfig tunes the live-request driver.
type OnlineConfig struct {
	// Enabled is the feature flag. NewOnlineAdapter returns nil when
	// false, so a disabled deployment carries no adapter at all.
	Enabled bool
}

// OnlineResult is one live attempt's outcome. Answer is always present
// when Process returns without error; the learning fields are zero when
// the learning tail failed (the caller's request is unaffected).
type OnlineResult struct {
	Trace       *roles.GeneratorTrace
	RevisionSeq int64

	// LearningErr records a failure after generation. It never fails
	// the caller's request.
	LearningErr error
}

// OnlineAdapter runs the full learning cycle for a single live request,
// committing immediately so subsequent requests see updated knowledge.
type OnlineAdapter struct {
	loop      *Loop
	evaluator Evaluator
	sink      RecordSink
}

// NewOnlineAdapter creates the live driver, or nil when the feature
// flag is off. Callers treat a nil adapter as "learning absent" and
// take their baseline path untouched. evaluator and sink may be nil.
func NewOnlineAdapter(cfg OnlineConfig, loop *Loop, evaluator Evaluator, sink RecordSink) *OnlineAdapter {
	if !cfg.Enabled {
		return nil
	}
	return &OnlineAdapter{loop: loop, evaluator: evaluator, sink: sink}
}

// Process answers one live request with playbook context, then runs the
// learning tail (evaluate, reflect, curate, commit). A failure before
// an answer exists is returned as an error; a failure after that point
// is recorded on the result and logged, never surfaced as a request
// failure.
func (a *OnlineAdapter) Process(ctx context.Context, question, extra string) (*OnlineResult, error) {
	logger := logging.GetLogger()

	res, err := a.loop.runAttempt(ctx, question, extra, "", a.evaluator)
	if err != nil {
		if res == nil || res.Trace == nil {
			// The Generator itself failed; there is no answer to salvage.
			return nil, err
		}
		// The answer exists; a failed learning tail must not lose it.
		logger.Error(ctx, "learning tail failed, request unaffected: %v", err)
		return &OnlineResult{Trace: res.Trace, LearningErr: err}, nil
	}

	result := &OnlineResult{Trace: res.Trace}

	rev, err := a.loop.commit(ctx, res, "online-adapter", "live attempt "+res.Attempt.ID)
	if err != nil {
		res.Attempt.Fail(err)
		logger.Error(ctx, "learning commit failed, request unaffected: %v", err)
		result.LearningErr = err
		return result, nil
	}
	if err := res.Attempt.Advance(); err != nil {
		return result, nil
	}
	if rev != nil {
		result.RevisionSeq = rev.Seq
	}

	if a.sink != nil {
		rec := SessionRecord{
			StrategyIDsCited:  res.Trace.CitedBullets,
			ReflectionSummary: res.Reflection.RootCause,
			DeltaRevisionSeq:  result.RevisionSeq,
		}
		if err := a.sink.Record(ctx, rec); err != nil {
			logger.Warn(ctx, "session record sink failed: %v", err)
		}
	}

	return result, nil
}
