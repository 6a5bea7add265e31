package adapt

import (
	"context"

	"github.com/acelabs/ace-go/pkg/errors"
	"github.com/acelabs/ace-go/pkg/logging"
	"github.com/acelabs/ace-go/pkg/playbook"
	"github.com/acelabs/ace-go/pkg/roles"
)

// Loop bundles the three roles and the store they learn into. Both
// adapters drive the same loop.
type Loop struct {
	Generator *roles.Generator
	Reflector *roles.Reflector
	Curator   *roles.Curator
	Store     playbook.Store
}

// attemptResult is one completed (not yet committed) pass through the
// role protocol.
type attemptResult struct {
	Attempt    *roles.Attempt
	Trace      *roles.GeneratorTrace
	Verdict    roles.Verdict
	Reflection *roles.Reflection
	Ops        []playbook.DeltaOp

	// BaseVersion is the snapshot version the attempt was computed
	// against, for the optimistic commit.
	BaseVersion int64
}

// runAttempt executes Generator, evaluation, Reflector, and Curator
// strictly in sequence. Any role failure moves the attempt to FAILED
// and returns the error; the store is never touched. Once the Generator
// has produced a trace, the partial result is returned alongside the
// error so callers can salvage the answer.
func (l *Loop) runAttempt(ctx context.Context, question, extra, groundTruth string, evaluator Evaluator) (*attemptResult, error) {
	logger := logging.GetLogger()

	attempt := roles.NewAttempt()
	ctx = logging.WithAttemptID(ctx, attempt.ID)

	snap, err := l.Store.Snapshot(ctx)
	if err != nil {
		attempt.Fail(err)
		return nil, err
	}

	trace, err := l.Generator.Execute(ctx, attempt.ID, question, extra, snap)
	if err != nil {
		attempt.Fail(err)
		return nil, err
	}
	res := &attemptResult{
		Attempt:     attempt,
		Trace:       trace,
		BaseVersion: snap.Version,
	}
	if err := attempt.Advance(); err != nil {
		return res, err
	}

	if evaluator != nil {
		res.Verdict, err = evaluator.Evaluate(ctx, trace, groundTruth)
		if err != nil {
			logger.Warn(ctx, "evaluator unavailable, falling back to advisory verdict: %v", err)
			res.Verdict = advisoryVerdict()
		}
	} else {
		res.Verdict = advisoryVerdict()
	}
	if err := attempt.Advance(); err != nil {
		return res, err
	}

	res.Reflection, err = l.Reflector.Execute(ctx, trace, res.Verdict, snap)
	if err != nil {
		attempt.Fail(err)
		return res, err
	}
	if err := attempt.Advance(); err != nil {
		return res, err
	}

	res.Ops, err = l.Curator.Propose(ctx, res.Reflection, snap)
	if err != nil {
		attempt.Fail(err)
		return res, err
	}

	return res, nil
}

// recurate re-runs Curation against a fresh snapshot after a commit
// conflict.
func (l *Loop) recurate(ctx context.Context, res *attemptResult) error {
	snap, err := l.Store.Snapshot(ctx)
	if err != nil {
		return err
	}
	ops, err := l.Curator.Propose(ctx, res.Reflection, snap)
	if err != nil {
		return err
	}
	res.Ops = ops
	res.BaseVersion = snap.Version
	return nil
}

// commit applies an attempt's deltas. An optimistic-concurrency
// conflict earns exactly one recuration against a refreshed snapshot.
func (l *Loop) commit(ctx context.Context, res *attemptResult, appliedBy, description string) (*playbook.Revision, error) {
	if len(res.Ops) == 0 {
		return nil, nil
	}

	opts := playbook.ApplyOptions{
		BaseVersion: res.BaseVersion,
		AppliedBy:   appliedBy,
		Description: description,
		Metadata:    map[string]string{"attempt_id": res.Attempt.ID},
	}

	rev, err := l.Store.Apply(ctx, res.Ops, opts)
	if err == nil {
		return rev, nil
	}
	if !errors.IsConflict(err) {
		return nil, err
	}

	logging.GetLogger().Info(ctx, "commit conflicted, recurating against refreshed snapshot")
	if err := l.recurate(ctx, res); err != nil {
		return nil, err
	}
	if len(res.Ops) == 0 {
		return nil, nil
	}
	opts.BaseVersion = res.BaseVersion
	return l.Store.Apply(ctx, res.Ops, opts)
}
