package playbook

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/acelabs/ace-go/pkg/errors"
)

// DeltaKind identifies one of the four mutation primitives.
type DeltaKind string

const (
	KindAdd    DeltaKind = "ADD"
	KindUpdate DeltaKind = "UPDATE"
	KindTag    DeltaKind = "TAG"
	KindRemove DeltaKind = "REMOVE"
)

// DeltaOp is a proposed mutation to a single playbook bullet.
//
// TAG operations carry signed counter deltas so that the journal can record
// exact inverses: the public constructors map an Outcome onto +1 deltas and
// rollback negates them.
type DeltaOp struct {
	Kind         DeltaKind         `json:"kind"`
	BulletID     string            `json:"bullet_id,omitempty"`
	Section      string            `json:"section,omitempty"`
	Content      string            `json:"content,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Outcome      Outcome           `json:"outcome,omitempty"`
	TraceID      string            `json:"trace_id,omitempty"`
	HelpfulDelta int               `json:"helpful_delta,omitempty"`
	HarmfulDelta int               `json:"harmful_delta,omitempty"`

	// Prior carries the removed bullet's full state on the inverse of a
	// REMOVE, and PriorIndex its position within the section ordering.
	Prior      *Bullet `json:"prior,omitempty"`
	PriorIndex int     `json:"prior_index,omitempty"`
}

// NewAdd proposes a new bullet in the given section.
func NewAdd(section, content string, metadata map[string]string) DeltaOp {
	return DeltaOp{Kind: KindAdd, Section: section, Content: content, Metadata: metadata}
}

// NewUpdate proposes replacing an existing bullet's content.
func NewUpdate(bulletID, content string) DeltaOp {
	return DeltaOp{Kind: KindUpdate, BulletID: bulletID, Content: content}
}

// NewTag proposes a counter adjustment for a cited bullet. The trace id
// scopes idempotency so the same reflection cannot double-tag.
func NewTag(bulletID string, outcome Outcome, traceID string) DeltaOp {
	op := DeltaOp{Kind: KindTag, BulletID: bulletID, Outcome: outcome, TraceID: traceID}
	switch outcome {
	case OutcomeHelpful:
		op.HelpfulDelta = 1
	case OutcomeHarmful:
		op.HarmfulDelta = 1
	}
	return op
}

// NewRemove proposes deleting a bullet.
func NewRemove(bulletID string) DeltaOp {
	return DeltaOp{Kind: KindRemove, BulletID: bulletID}
}

// Validate checks the operation's structural requirements, independent of
// any playbook state.
func (op DeltaOp) Validate() error {
	switch op.Kind {
	case KindAdd:
		if op.Section == "" {
			return errors.New(errors.ValidationFailed, "ADD requires a section")
		}
		if strings.TrimSpace(op.Content) == "" {
			return errors.New(errors.ValidationFailed, "ADD requires content")
		}
	case KindUpdate:
		if op.BulletID == "" {
			return errors.New(errors.ValidationFailed, "UPDATE requires a bullet id")
		}
		if strings.TrimSpace(op.Content) == "" {
			return errors.New(errors.ValidationFailed, "UPDATE requires content")
		}
	case KindTag:
		if op.BulletID == "" {
			return errors.New(errors.ValidationFailed, "TAG requires a bullet id")
		}
		if !op.Outcome.Valid() {
			return errors.WithFields(
				errors.New(errors.ValidationFailed, "TAG requires a valid outcome"),
				errors.Fields{"outcome": string(op.Outcome)})
		}
	case KindRemove:
		if op.BulletID == "" {
			return errors.New(errors.ValidationFailed, "REMOVE requires a bullet id")
		}
	default:
		return errors.WithFields(
			errors.New(errors.ValidationFailed, "unknown delta kind"),
			errors.Fields{"kind": string(op.Kind)})
	}
	return nil
}

// Key returns the operation's idempotency key, derived from semantic
// content rather than identity, so equivalent resubmissions collapse.
func (op DeltaOp) Key() string {
	var seed string
	switch op.Kind {
	case KindAdd:
		seed = fmt.Sprintf("add|%s|%s", op.Section, NormalizeContent(op.Content))
	case KindUpdate:
		seed = fmt.Sprintf("update|%s|%s", op.BulletID, op.Content)
	case KindTag:
		seed = fmt.Sprintf("tag|%s|%s|%s", op.BulletID, op.Outcome, op.TraceID)
	case KindRemove:
		seed = fmt.Sprintf("remove|%s", op.BulletID)
	default:
		seed = string(op.Kind)
	}
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// inverse returns the negated TAG counterpart of a TAG operation.
func (op DeltaOp) negated() DeltaOp {
	inv := op
	inv.HelpfulDelta = -op.HelpfulDelta
	inv.HarmfulDelta = -op.HarmfulDelta
	return inv
}

// Collapse removes operations whose idempotency key already appeared
// earlier in the batch, preserving order.
func Collapse(ops []DeltaOp) []DeltaOp {
	seen := make(map[string]bool, len(ops))
	out := make([]DeltaOp, 0, len(ops))
	for _, op := range ops {
		key := op.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, op)
	}
	return out
}

// NormalizeContent canonicalizes bullet text for de-duplication: NFKC
// normalization, lowercase, and collapsed whitespace.
func NormalizeContent(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !prevSpace {
				b.WriteRune(' ')
				prevSpace = true
			}
		} else {
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return b.String()
}

// tokenize splits text into a word token set.
func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	s = strings.ToLower(s)

	var word strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
		} else if word.Len() > 0 {
			tokens[word.String()] = true
			word.Reset()
		}
	}
	if word.Len() > 0 {
		tokens[word.String()] = true
	}

	return tokens
}

// jaccardSimilarity computes the Jaccard index between two token sets.
func jaccardSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	intersection := 0
	for token := range a {
		if b[token] {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0.0
	}

	return float64(intersection) / float64(union)
}

// PlanOptions parameterize the pure delta engine.
type PlanOptions struct {
	// AutoCreateSections lets ADD target sections that do not exist yet.
	AutoCreateSections bool

	// SimilarityThreshold enables the token-set de-duplication tier when
	// above zero: an ADD whose content has Jaccard similarity at or above
	// the threshold with an existing bullet in the same section merges
	// into that bullet.
	SimilarityThreshold float64

	// HarmfulThreshold flags bullets whose harmful count reaches it.
	// Zero disables flagging.
	HarmfulThreshold int

	// AppliedTagKeys holds TAG idempotency keys committed by earlier
	// revisions; matching TAGs become no-ops.
	AppliedTagKeys map[string]bool

	// RemovedIDs holds bullet ids removed by earlier revisions, so that a
	// repeated REMOVE is a no-op rather than a validation failure.
	RemovedIDs map[string]bool

	// NewID mints bullet ids. Required when the batch may contain ADDs.
	NewID func() string

	Now time.Time
}

// PlanResult is the outcome of running a delta batch against a snapshot.
// Bullets and Sections describe the complete resulting state; Rev carries
// everything journal-worthy except the sequence number, which the store
// assigns at commit.
type PlanResult struct {
	Bullets  map[string]Bullet
	Sections []Section
	Rev      Revision

	// TagKeys are the TAG idempotency keys consumed by this plan.
	TagKeys []string
}

// Plan validates a delta batch against a snapshot and computes the
// resulting playbook state, the inverse operations, and the revision
// summary. It is pure: the input snapshot is never mutated, and no I/O
// happens here.
func Plan(snap *Snapshot, ops []DeltaOp, opts PlanOptions) (*PlanResult, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}

	ops = Collapse(ops)

	res := &PlanResult{
		Bullets: make(map[string]Bullet, len(snap.Bullets)),
	}
	for id, b := range snap.Bullets {
		res.Bullets[id] = b.clone()
	}
	res.Sections = make([]Section, len(snap.Sections))
	for i := range snap.Sections {
		res.Sections[i] = snap.Sections[i].clone()
	}
	res.Rev.Ops = ops

	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, err
		}

		switch op.Kind {
		case KindAdd:
			if err := planAdd(res, op, opts); err != nil {
				return nil, err
			}
		case KindUpdate:
			if err := planUpdate(res, op, opts); err != nil {
				return nil, err
			}
		case KindTag:
			if err := planTag(res, op, opts); err != nil {
				return nil, err
			}
		case KindRemove:
			if err := planRemove(res, op, opts); err != nil {
				return nil, err
			}
		}
	}

	if opts.HarmfulThreshold > 0 {
		for id, b := range res.Bullets {
			if b.HarmfulCount >= opts.HarmfulThreshold {
				res.Rev.Flagged = append(res.Rev.Flagged, id)
			}
		}
	}

	return res, nil
}

func planAdd(res *PlanResult, op DeltaOp, opts PlanOptions) error {
	sec := sectionRef(res, op.Section)
	if sec == nil {
		if !opts.AutoCreateSections && op.Prior == nil {
			return errors.WithFields(
				errors.New(errors.ValidationFailed, "ADD targets unknown section"),
				errors.Fields{"section": op.Section})
		}
		res.Sections = append(res.Sections, Section{
			Name:        op.Section,
			DisplayName: displayName(op.Section),
			Ordering:    len(res.Sections) + 1,
		})
		sec = &res.Sections[len(res.Sections)-1]
	}

	// Restoring a removed bullet during rollback: reinsert prior state at
	// its prior position, skipping de-duplication.
	if op.Prior != nil {
		restored := op.Prior.clone()
		res.Bullets[restored.ID] = restored
		idx := op.PriorIndex
		if idx < 0 || idx > len(sec.BulletIDs) {
			idx = len(sec.BulletIDs)
		}
		sec.BulletIDs = append(sec.BulletIDs[:idx], append([]string{restored.ID}, sec.BulletIDs[idx:]...)...)
		res.Rev.Added = append(res.Rev.Added, restored.ID)
		res.Rev.Inverses = append(res.Rev.Inverses, NewRemove(restored.ID))
		return nil
	}

	// De-duplication: an equivalent bullet already in the section turns
	// the ADD into a helpful TAG on the existing bullet.
	if existing := findEquivalent(res, sec, op.Content, opts.SimilarityThreshold); existing != "" {
		b := res.Bullets[existing]
		b.HelpfulCount++
		b.UpdatedAt = opts.Now
		res.Bullets[existing] = b
		res.Rev.Tagged = append(res.Rev.Tagged, existing)
		inv := NewTag(existing, OutcomeHelpful, "")
		res.Rev.Inverses = append(res.Rev.Inverses, inv.negated())
		return nil
	}

	if opts.NewID == nil {
		return errors.New(errors.InvalidInput, "plan options missing bullet id generator")
	}
	id := opts.NewID()
	bullet := Bullet{
		ID:           id,
		Section:      sec.Name,
		Content:      op.Content,
		HelpfulCount: maxInt(op.HelpfulDelta, 0),
		HarmfulCount: maxInt(op.HarmfulDelta, 0),
		Metadata:     op.Metadata,
		CreatedAt:    opts.Now,
		UpdatedAt:    opts.Now,
	}
	res.Bullets[id] = bullet
	sec.BulletIDs = append(sec.BulletIDs, id)
	res.Rev.Added = append(res.Rev.Added, id)
	res.Rev.Inverses = append(res.Rev.Inverses, NewRemove(id))
	return nil
}

func planUpdate(res *PlanResult, op DeltaOp, opts PlanOptions) error {
	b, ok := res.Bullets[op.BulletID]
	if !ok {
		return errors.WithFields(
			errors.New(errors.ValidationFailed, "UPDATE targets unknown bullet"),
			errors.Fields{"bullet_id": op.BulletID})
	}
	if b.Content == op.Content {
		res.Rev.Skipped = append(res.Rev.Skipped, op.BulletID)
		return nil
	}

	inv := NewUpdate(op.BulletID, b.Content)
	b.Content = op.Content
	b.UpdatedAt = opts.Now
	res.Bullets[op.BulletID] = b
	res.Rev.Updated = append(res.Rev.Updated, op.BulletID)
	res.Rev.Inverses = append(res.Rev.Inverses, inv)
	return nil
}

func planTag(res *PlanResult, op DeltaOp, opts PlanOptions) error {
	key := op.Key()
	if opts.AppliedTagKeys[key] {
		res.Rev.Skipped = append(res.Rev.Skipped, op.BulletID)
		return nil
	}

	b, ok := res.Bullets[op.BulletID]
	if !ok {
		return errors.WithFields(
			errors.New(errors.ValidationFailed, "TAG targets unknown bullet"),
			errors.Fields{"bullet_id": op.BulletID})
	}

	// Counters saturate at zero; a proper rollback never hits the floor
	// because the inverse matches the recorded delta exactly.
	b.HelpfulCount = maxInt(b.HelpfulCount+op.HelpfulDelta, 0)
	b.HarmfulCount = maxInt(b.HarmfulCount+op.HarmfulDelta, 0)
	b.UpdatedAt = opts.Now
	res.Bullets[op.BulletID] = b
	res.Rev.Tagged = append(res.Rev.Tagged, op.BulletID)
	res.Rev.Inverses = append(res.Rev.Inverses, op.negated())
	res.TagKeys = append(res.TagKeys, key)
	return nil
}

func planRemove(res *PlanResult, op DeltaOp, opts PlanOptions) error {
	b, ok := res.Bullets[op.BulletID]
	if !ok {
		if opts.RemovedIDs[op.BulletID] {
			// Equivalent REMOVE already committed; no-op.
			res.Rev.Skipped = append(res.Rev.Skipped, op.BulletID)
			return nil
		}
		return errors.WithFields(
			errors.New(errors.ValidationFailed, "REMOVE targets unknown bullet"),
			errors.Fields{"bullet_id": op.BulletID})
	}

	sec := sectionRef(res, b.Section)
	idx := -1
	if sec != nil {
		for i, id := range sec.BulletIDs {
			if id == op.BulletID {
				idx = i
				break
			}
		}
		if idx >= 0 {
			sec.BulletIDs = append(sec.BulletIDs[:idx], sec.BulletIDs[idx+1:]...)
		}
	}

	prior := b.clone()
	delete(res.Bullets, op.BulletID)
	res.Rev.Removed = append(res.Rev.Removed, op.BulletID)

	inv := NewAdd(prior.Section, prior.Content, prior.Metadata)
	inv.Prior = &prior
	inv.PriorIndex = idx
	res.Rev.Inverses = append(res.Rev.Inverses, inv)
	return nil
}

func sectionRef(res *PlanResult, name string) *Section {
	for i := range res.Sections {
		if res.Sections[i].Name == name {
			return &res.Sections[i]
		}
	}
	return nil
}

// findEquivalent returns the id of a bullet in the section equivalent to
// the given content: first by normalized equality, then by token-set
// similarity when a threshold is configured.
func findEquivalent(res *PlanResult, sec *Section, content string, threshold float64) string {
	normalized := NormalizeContent(content)
	for _, id := range sec.BulletIDs {
		if b, ok := res.Bullets[id]; ok && NormalizeContent(b.Content) == normalized {
			return id
		}
	}

	if threshold <= 0 {
		return ""
	}
	newTokens := tokenize(content)
	for _, id := range sec.BulletIDs {
		b, ok := res.Bullets[id]
		if !ok {
			continue
		}
		if jaccardSimilarity(newTokens, tokenize(b.Content)) >= threshold {
			return id
		}
	}
	return ""
}

func displayName(name string) string {
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
