package playbook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/acelabs/ace-go/pkg/errors"
)

// Store is the durable, versioned playbook. It is the sole owner of
// bullet, section, and revision state; all mutation flows through Apply.
type Store interface {
	// ReadSection returns the named section's bullets in insertion order,
	// reflecting the latest committed revision.
	ReadSection(ctx context.Context, name string) ([]Bullet, error)

	// Snapshot returns a consistent view of every section and bullet.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// Apply commits a delta batch atomically: either every operation is
	// committed under a single new Revision, or the store is unchanged.
	// A batch computed against a stale snapshot whose targets were
	// touched by an intervening commit fails with ConflictDetected.
	Apply(ctx context.Context, ops []DeltaOp, opts ApplyOptions) (*Revision, error)

	// Rollback undoes the revision with the given sequence number by
	// applying its inverses as a new forward revision. Later revisions
	// touching the same bullets cause RollbackConflict unless force
	// requests a cascading rollback.
	Rollback(ctx context.Context, seq int64, force bool) (*Revision, error)

	// Revisions returns the journal in ascending sequence order.
	Revisions(ctx context.Context) ([]Revision, error)
}

// ApplyOptions carries commit metadata and the optimistic-concurrency
// base version.
type ApplyOptions struct {
	// BaseVersion is the snapshot version the batch was computed against.
	// Zero skips the conflict check and commits against the latest state.
	BaseVersion int64

	AppliedBy   string
	Description string
	Metadata    map[string]string
}

// StoreOptions tune the delta engine policies shared by all stores.
type StoreOptions struct {
	// AutoCreateSections lets ADD operations create missing sections.
	AutoCreateSections bool

	// SimilarityThreshold enables token-set de-duplication when above
	// zero (0.85 is a reasonable starting point).
	SimilarityThreshold float64

	// HarmfulThreshold marks bullets for curation policy once their
	// harmful count reaches it. Zero disables flagging.
	HarmfulThreshold int
}

// MemoryStore is an in-process Store with optimistic concurrency and an
// append-only revision journal. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	bullets  map[string]Bullet
	sections []Section
	journal  []Revision
	version  int64

	// lastTouched maps bullet id to the sequence of the last revision
	// that mutated it; the optimistic conflict check compares it against
	// the caller's base version.
	lastTouched map[string]int64
	removed     map[string]int64
	appliedTags map[string]int64

	opts StoreOptions
}

// NewMemoryStore creates an empty in-memory playbook store.
func NewMemoryStore(opts StoreOptions) *MemoryStore {
	return &MemoryStore{
		bullets:     make(map[string]Bullet),
		lastTouched: make(map[string]int64),
		removed:     make(map[string]int64),
		appliedTags: make(map[string]int64),
		opts:        opts,
	}
}

func (s *MemoryStore) ReadSection(ctx context.Context, name string) ([]Bullet, error) {
	if err := errors.CheckContext(ctx, "read section"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.sections {
		if s.sections[i].Name != name {
			continue
		}
		bullets := make([]Bullet, 0, len(s.sections[i].BulletIDs))
		for _, id := range s.sections[i].BulletIDs {
			if b, ok := s.bullets[id]; ok {
				bullets = append(bullets, b.clone())
			}
		}
		return bullets, nil
	}
	return nil, errors.WithFields(
		errors.New(errors.ResourceNotFound, "section not found"),
		errors.Fields{"section": name})
}

func (s *MemoryStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := errors.CheckContext(ctx, "snapshot"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

func (s *MemoryStore) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Version: s.version,
		Bullets: make(map[string]Bullet, len(s.bullets)),
	}
	for id, b := range s.bullets {
		snap.Bullets[id] = b.clone()
	}
	snap.Sections = make([]Section, len(s.sections))
	for i := range s.sections {
		snap.Sections[i] = s.sections[i].clone()
	}
	return snap
}

func (s *MemoryStore) Apply(ctx context.Context, ops []DeltaOp, opts ApplyOptions) (*Revision, error) {
	if err := errors.CheckContext(ctx, "apply"); err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, errors.New(errors.InvalidInput, "empty delta batch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConflictLocked(ops, opts.BaseVersion); err != nil {
		return nil, err
	}

	res, err := Plan(s.snapshotLocked(), ops, s.planOptions())
	if err != nil {
		return nil, err
	}

	rev := res.Rev
	if !rev.HasChanges() {
		// The whole batch collapsed to no-ops; nothing to journal.
		rev.Seq = s.version
		return &rev, nil
	}

	rev.Seq = s.version + 1
	rev.AppliedAt = time.Now().UTC()
	rev.AppliedBy = opts.AppliedBy
	rev.Description = opts.Description
	rev.Metadata = opts.Metadata

	s.commitLocked(res, rev, true)
	return &rev, nil
}

// checkConflictLocked rejects batches computed against a snapshot whose
// targets were mutated by an intervening commit.
func (s *MemoryStore) checkConflictLocked(ops []DeltaOp, baseVersion int64) error {
	if baseVersion <= 0 || s.version <= baseVersion {
		return nil
	}
	for _, op := range ops {
		if op.BulletID == "" {
			continue
		}
		if touched, ok := s.lastTouched[op.BulletID]; ok && touched > baseVersion {
			return errors.WithFields(
				errors.New(errors.ConflictDetected, "delta target touched by a later revision"),
				errors.Fields{
					"bullet_id":    op.BulletID,
					"base_version": baseVersion,
					"touched_at":   touched,
				})
		}
	}
	return nil
}

func (s *MemoryStore) planOptions() PlanOptions {
	applied := make(map[string]bool, len(s.appliedTags))
	for k := range s.appliedTags {
		applied[k] = true
	}
	removed := make(map[string]bool, len(s.removed))
	for id := range s.removed {
		removed[id] = true
	}
	return PlanOptions{
		AutoCreateSections:  s.opts.AutoCreateSections,
		SimilarityThreshold: s.opts.SimilarityThreshold,
		HarmfulThreshold:    s.opts.HarmfulThreshold,
		AppliedTagKeys:      applied,
		RemovedIDs:          removed,
		NewID:               func() string { return ulid.Make().String() },
		Now:                 time.Now().UTC(),
	}
}

// commitLocked swaps in the planned state and appends the revision.
// recordTags is false for rollback commits, whose inverse TAGs must not
// re-reserve the original idempotency keys.
func (s *MemoryStore) commitLocked(res *PlanResult, rev Revision, recordTags bool) {
	s.bullets = res.Bullets
	s.sections = res.Sections
	s.version = rev.Seq
	s.journal = append(s.journal, rev)

	for id := range rev.Touched() {
		s.lastTouched[id] = rev.Seq
	}
	for _, id := range rev.Removed {
		s.removed[id] = rev.Seq
	}
	for _, id := range rev.Added {
		delete(s.removed, id)
	}
	if recordTags {
		for _, key := range res.TagKeys {
			s.appliedTags[key] = rev.Seq
		}
	}
}

func (s *MemoryStore) Rollback(ctx context.Context, seq int64, force bool) (*Revision, error) {
	if err := errors.CheckContext(ctx, "rollback"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	targetIdx := -1
	for i := range s.journal {
		if s.journal[i].Seq == seq {
			targetIdx = i
			break
		}
	}
	if targetIdx < 0 {
		return nil, errors.WithFields(
			errors.New(errors.RevisionNotFound, "revision not found"),
			errors.Fields{"seq": seq})
	}

	target := s.journal[targetIdx]
	undoing := []Revision{target}

	// Later revisions touching the same bullets supersede the target's
	// inverses; without force that is a conflict, with force the whole
	// suffix from the target onward is undone in reverse order.
	touched := target.Touched()
	conflicted := false
	for i := targetIdx + 1; i < len(s.journal); i++ {
		for id := range s.journal[i].Touched() {
			if touched[id] {
				conflicted = true
			}
		}
	}
	if conflicted && !force {
		return nil, errors.WithFields(
			errors.New(errors.RollbackConflict, "later revisions touch the same bullets"),
			errors.Fields{"seq": seq})
	}
	if force {
		undoing = s.journal[targetIdx:]
	}

	// Build the inverse batch: newest revision first, inverses reversed
	// within each revision.
	var inverseOps []DeltaOp
	for i := len(undoing) - 1; i >= 0; i-- {
		inv := undoing[i].Inverses
		for j := len(inv) - 1; j >= 0; j-- {
			inverseOps = append(inverseOps, inv[j])
		}
	}
	if len(inverseOps) == 0 {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "revision has nothing to undo"),
			errors.Fields{"seq": seq})
	}

	planOpts := s.planOptions()
	planOpts.AppliedTagKeys = nil // inverse TAGs must always apply
	planOpts.AutoCreateSections = true

	res, err := Plan(s.snapshotLocked(), inverseOps, planOpts)
	if err != nil {
		return nil, errors.Wrap(err, errors.RollbackConflict, "inverse batch no longer applies")
	}

	rev := res.Rev
	rev.Seq = s.version + 1
	rev.AppliedAt = time.Now().UTC()
	rev.AppliedBy = "rollback"
	rev.Description = fmt.Sprintf("rollback of revision %d", seq)
	rev.Metadata = map[string]string{"rollback_of": fmt.Sprintf("%d", seq)}

	s.commitLocked(res, rev, false)

	// Release the idempotency keys consumed by the undone revisions so
	// an equivalent TAG can be legitimately re-applied later.
	for _, undone := range undoing {
		for key, at := range s.appliedTags {
			if at == undone.Seq {
				delete(s.appliedTags, key)
			}
		}
	}

	return &rev, nil
}

func (s *MemoryStore) Revisions(ctx context.Context) ([]Revision, error) {
	if err := errors.CheckContext(ctx, "revisions"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Revision, len(s.journal))
	copy(out, s.journal)
	return out, nil
}
