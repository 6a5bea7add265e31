package adapt

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/acelabs/ace-go/pkg/errors"
	"github.com/acelabs/ace-go/pkg/logging"
	"github.com/acelabs/ace-go/pkg/playbook"
	"github.com/acelabs/ace-go/pkg/roles"
)

// Example is one labeled training example. Dataset formats are the
// caller's concern; this core only consumes the iterable.
type Example struct {
	Question string
	Context  string
	Answer   string
}

// Dataset is an iterable sequence of examples.
type Dataset interface {
	// Next returns the next example in the dataset
	Next() (Example, bool)
	// Reset resets the dataset iterator
	Reset()
}

// SliceDataset adapts an in-memory slice to the Dataset interface.
type SliceDataset struct {
	examples []Example
	pos      int
}

func NewSliceDataset(examples []Example) *SliceDataset {
	return &SliceDataset{examples: examples}
}

func (d *SliceDataset) Next() (Example, bool) {
	if d.pos >= len(d.examples) {
		return Example{}, false
	}
	ex := d.examples[d.pos]
	d.pos++
	return ex, true
}

func (d *SliceDataset) Reset() { d.pos = 0 }

// OfflineConfig tunes a training run.
type OfflineConfig struct {
	// Passes is the number of times the dataset is iterated.
	Passes int

	// BatchSize groups this many examples' deltas into one commit.
	// One commits per example.
	BatchSize int

	// ResumeFrom skips examples before this index on the first pass,
	// for restarting an interrupted run.
	ResumeFrom int

	// Concurrency bounds how many attempts within a batch run at once.
	// The batch's commits still happen sequentially in example order.
	Concurrency int
}

// PassMetrics aggregates one pass over the dataset.
type PassMetrics struct {
	Pass        int
	Examples    int
	Successes   int
	HelpfulTags int
	HarmfulTags int
}

// SuccessRate is the fraction of evaluated examples judged successful.
func (m PassMetrics) SuccessRate() float64 {
	if m.Examples == 0 {
		return 0
	}
	return float64(m.Successes) / float64(m.Examples)
}

// OfflineReport summarizes a training run.
type OfflineReport struct {
	Passes []PassMetrics

	// LastCommitted is the index of the last example whose deltas were
	// committed on the final (possibly interrupted) pass; -1 when
	// nothing committed. Feed it back as ResumeFrom to continue.
	LastCommitted int

	Revisions []int64
}

// SuccessRateDelta is the change in success rate from the first pass
// to the last, the primary signal that the playbook is helping.
func (r *OfflineReport) SuccessRateDelta() float64 {
	if len(r.Passes) < 2 {
		return 0
	}
	return r.Passes[len(r.Passes)-1].SuccessRate() - r.Passes[0].SuccessRate()
}

// OfflineAdapter drives the learning loop over a labeled dataset.
type OfflineAdapter struct {
	loop      *Loop
	evaluator Evaluator
	cfg       OfflineConfig
}

// NewOfflineAdapter creates an offline driver. evaluator must not be
// nil: offline training is pointless without a ground-truth signal.
func NewOfflineAdapter(loop *Loop, evaluator Evaluator, cfg OfflineConfig) (*OfflineAdapter, error) {
	if loop == nil || evaluator == nil {
		return nil, errors.New(errors.InvalidInput, "loop and evaluator are required")
	}
	if cfg.Passes < 1 {
		cfg.Passes = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &OfflineAdapter{loop: loop, evaluator: evaluator, cfg: cfg}, nil
}

// Run iterates the dataset for the configured number of passes. On
// error the returned report is still valid: LastCommitted tells the
// caller where to resume.
func (a *OfflineAdapter) Run(ctx context.Context, dataset Dataset) (*OfflineReport, error) {
	logger := logging.GetLogger()
	report := &OfflineReport{LastCommitted: -1}

	for pass := 0; pass < a.cfg.Passes; pass++ {
		dataset.Reset()
		metrics := PassMetrics{Pass: pass + 1}

		skip := 0
		if pass == 0 {
			skip = a.cfg.ResumeFrom
		}

		index := -1
		var batch []Example
		var batchStart int
		for {
			ex, ok := dataset.Next()
			if !ok {
				break
			}
			index++
			if index < skip {
				continue
			}

			if len(batch) == 0 {
				batchStart = index
			}
			batch = append(batch, ex)
			if len(batch) < a.cfg.BatchSize {
				continue
			}

			if err := a.runBatch(ctx, batch, batchStart, &metrics, report); err != nil {
				report.Passes = append(report.Passes, metrics)
				return report, err
			}
			batch = nil
		}
		if len(batch) > 0 {
			if err := a.runBatch(ctx, batch, batchStart, &metrics, report); err != nil {
				report.Passes = append(report.Passes, metrics)
				return report, err
			}
		}

		report.Passes = append(report.Passes, metrics)
		logger.Info(ctx, "pass %d complete: %d/%d successful",
			metrics.Pass, metrics.Successes, metrics.Examples)
	}

	return report, nil
}

// runBatch runs one batch of attempts (concurrently when configured)
// and commits their deltas as a single revision per batch.
func (a *OfflineAdapter) runBatch(ctx context.Context, batch []Example, startIndex int, metrics *PassMetrics, report *OfflineReport) error {
	results := make([]*attemptResult, len(batch))
	attemptErrs := make([]error, len(batch))

	if a.cfg.Concurrency > 1 {
		var mu sync.Mutex
		p := pool.New().WithMaxGoroutines(a.cfg.Concurrency)
		for i, ex := range batch {
			i, ex := i, ex
			p.Go(func() {
				res, err := a.loop.runAttempt(ctx, ex.Question, ex.Context, ex.Answer, a.evaluator)
				mu.Lock()
				results[i], attemptErrs[i] = res, err
				mu.Unlock()
			})
		}
		p.Wait()
	} else {
		for i, ex := range batch {
			results[i], attemptErrs[i] = a.loop.runAttempt(ctx, ex.Question, ex.Context, ex.Answer, a.evaluator)
		}
	}

	var ops []playbook.DeltaOp
	for i, res := range results {
		if attemptErrs[i] != nil {
			return errors.WithFields(
				errors.Wrap(attemptErrs[i], errors.AttemptFailed, "attempt failed"),
				errors.Fields{"example_index": startIndex + i})
		}
		metrics.Examples++
		if res.Verdict.Label == roles.VerdictSuccess {
			metrics.Successes++
		}
		for _, op := range res.Ops {
			if op.Kind == playbook.KindTag {
				switch op.Outcome {
				case playbook.OutcomeHelpful:
					metrics.HelpfulTags++
				case playbook.OutcomeHarmful:
					metrics.HarmfulTags++
				}
			}
		}
		ops = append(ops, res.Ops...)
	}

	if len(ops) == 0 {
		for _, res := range results {
			if err := res.Attempt.Advance(); err != nil {
				return err
			}
		}
		report.LastCommitted = startIndex + len(batch) - 1
		return nil
	}

	// A single writer drives the whole batch, so the commit skips the
	// optimistic base-version check.
	rev, err := a.loop.Store.Apply(ctx, ops, playbook.ApplyOptions{
		AppliedBy:   "offline-adapter",
		Description: fmt.Sprintf("pass %d, examples %d-%d", metrics.Pass, startIndex, startIndex+len(batch)-1),
	})
	if err != nil {
		return err
	}
	if rev.HasChanges() {
		report.Revisions = append(report.Revisions, rev.Seq)
	}
	for _, res := range results {
		if err := res.Attempt.Advance(); err != nil {
			return err
		}
	}
	report.LastCommitted = startIndex + len(batch) - 1
	return nil
}
