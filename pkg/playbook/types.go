package playbook

import (
	"time"
)

// Outcome classifies how a cited bullet influenced a task attempt.
type Outcome string

const (
	OutcomeHelpful Outcome = "helpful"
	OutcomeHarmful Outcome = "harmful"
	OutcomeNeutral Outcome = "neutral"
)

// Valid reports whether the outcome is one of the known classifications.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeHelpful, OutcomeHarmful, OutcomeNeutral:
		return true
	}
	return false
}

// Bullet is one atomic strategy entry in the playbook.
type Bullet struct {
	ID           string            `json:"id"`
	Section      string            `json:"section"`
	Content      string            `json:"content"`
	HelpfulCount int               `json:"helpful_count"`
	HarmfulCount int               `json:"harmful_count"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Score returns the net usefulness signal used for context ranking.
func (b *Bullet) Score() int {
	return b.HelpfulCount - b.HarmfulCount
}

// clone returns a deep copy so snapshots never alias store state.
func (b *Bullet) clone() Bullet {
	c := *b
	if b.Metadata != nil {
		c.Metadata = make(map[string]string, len(b.Metadata))
		for k, v := range b.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Section is a named, ordered grouping of bullets. BulletIDs preserves
// insertion order, which is the order bullets are presented to the
// Generator.
type Section struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description,omitempty"`
	Ordering    int      `json:"ordering"`
	BulletIDs   []string `json:"bullet_ids"`
}

func (s *Section) clone() Section {
	c := *s
	c.BulletIDs = append([]string(nil), s.BulletIDs...)
	return c
}

// Snapshot is a consistent, point-in-time view of the whole playbook.
// Version is the sequence number of the last revision it reflects.
type Snapshot struct {
	Version  int64             `json:"version"`
	Sections []Section         `json:"sections"`
	Bullets  map[string]Bullet `json:"bullets"`
}

// Bullet looks up a bullet by id.
func (s *Snapshot) Bullet(id string) (Bullet, bool) {
	b, ok := s.Bullets[id]
	return b, ok
}

// SectionByName returns the named section, or nil.
func (s *Snapshot) SectionByName(name string) *Section {
	for i := range s.Sections {
		if s.Sections[i].Name == name {
			return &s.Sections[i]
		}
	}
	return nil
}

// SectionBullets returns the section's bullets in insertion order.
func (s *Snapshot) SectionBullets(name string) []Bullet {
	sec := s.SectionByName(name)
	if sec == nil {
		return nil
	}
	bullets := make([]Bullet, 0, len(sec.BulletIDs))
	for _, id := range sec.BulletIDs {
		if b, ok := s.Bullets[id]; ok {
			bullets = append(bullets, b)
		}
	}
	return bullets
}

// Revision is an immutable journal entry for one committed delta batch.
// Inverses hold the operations that undo the batch, in application order;
// rollback replays them reversed.
type Revision struct {
	Seq         int64             `json:"seq"`
	AppliedAt   time.Time         `json:"applied_at"`
	AppliedBy   string            `json:"applied_by,omitempty"`
	Description string            `json:"description,omitempty"`
	Ops         []DeltaOp         `json:"ops"`
	Inverses    []DeltaOp         `json:"inverses"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	// Added lists bullet ids created by this revision (including ADDs
	// that degenerated into TAGs, which appear under Tagged instead).
	Added   []string `json:"added,omitempty"`
	Updated []string `json:"updated,omitempty"`
	Tagged  []string `json:"tagged,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Skipped []string `json:"skipped,omitempty"`

	// Flagged lists bullets whose harmful count reached the configured
	// threshold after this commit. Surfaced for curation policy, never
	// auto-deleted here.
	Flagged []string `json:"flagged,omitempty"`
}

// Touched returns the set of bullet ids this revision mutated.
func (r *Revision) Touched() map[string]bool {
	touched := make(map[string]bool)
	for _, list := range [][]string{r.Added, r.Updated, r.Tagged, r.Removed} {
		for _, id := range list {
			touched[id] = true
		}
	}
	return touched
}

// HasChanges reports whether the revision mutated anything.
func (r *Revision) HasChanges() bool {
	return len(r.Added)+len(r.Updated)+len(r.Tagged)+len(r.Removed) > 0
}
