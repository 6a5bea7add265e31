package playbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acelabs/ace-go/pkg/errors"
)

func TestDeltaOpValidate(t *testing.T) {
	tests := []struct {
		name    string
		op      DeltaOp
		wantErr bool
	}{
		{name: "valid add", op: NewAdd("strategies", "prefer batch writes", nil)},
		{name: "add missing section", op: DeltaOp{Kind: KindAdd, Content: "x"}, wantErr: true},
		{name: "add blank content", op: DeltaOp{Kind: KindAdd, Section: "s", Content: "   "}, wantErr: true},
		{name: "valid update", op: NewUpdate("b1", "new content")},
		{name: "update missing id", op: DeltaOp{Kind: KindUpdate, Content: "x"}, wantErr: true},
		{name: "valid tag", op: NewTag("b1", OutcomeHelpful, "trace-1")},
		{name: "tag bad outcome", op: DeltaOp{Kind: KindTag, BulletID: "b1", Outcome: "great"}, wantErr: true},
		{name: "valid remove", op: NewRemove("b1")},
		{name: "remove missing id", op: DeltaOp{Kind: KindRemove}, wantErr: true},
		{name: "unknown kind", op: DeltaOp{Kind: "MERGE"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, errors.ValidationFailed, errors.CodeOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDeltaOpKey(t *testing.T) {
	t.Run("add keys ignore formatting differences", func(t *testing.T) {
		a := NewAdd("strategies", "Prefer  batch writes", nil)
		b := NewAdd("strategies", "prefer batch writes", nil)
		assert.Equal(t, a.Key(), b.Key())
	})

	t.Run("tag keys scope by trace", func(t *testing.T) {
		a := NewTag("b1", OutcomeHelpful, "trace-1")
		b := NewTag("b1", OutcomeHelpful, "trace-2")
		assert.NotEqual(t, a.Key(), b.Key())
	})

	t.Run("different kinds never collide", func(t *testing.T) {
		add := NewAdd("s", "b1", nil)
		rm := NewRemove("b1")
		assert.NotEqual(t, add.Key(), rm.Key())
	})
}

func TestCollapse(t *testing.T) {
	ops := []DeltaOp{
		NewAdd("strategies", "use retries", nil),
		NewTag("b1", OutcomeHelpful, "trace-1"),
		NewAdd("strategies", "USE   retries", nil),
		NewTag("b1", OutcomeHelpful, "trace-1"),
		NewTag("b1", OutcomeHarmful, "trace-1"),
	}

	collapsed := Collapse(ops)
	require.Len(t, collapsed, 3)
	assert.Equal(t, KindAdd, collapsed[0].Kind)
	assert.Equal(t, OutcomeHelpful, collapsed[1].Outcome)
	assert.Equal(t, OutcomeHarmful, collapsed[2].Outcome)
}

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "whitespace collapse", input: "  prefer\tbatch   writes \n", want: "prefer batch writes"},
		{name: "case folding", input: "Prefer Batch Writes", want: "prefer batch writes"},
		{name: "compatibility forms", input: "ﬁle limits", want: "file limits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeContent(tt.input))
		})
	}
}

func TestPlanAddDeduplication(t *testing.T) {
	snap := seedSnapshot(t)
	base := snap.Bullets["b1"]

	t.Run("exact duplicate becomes a helpful tag", func(t *testing.T) {
		res, err := Plan(snap, []DeltaOp{NewAdd("strategies", "  "+base.Content+"  ", nil)}, testPlanOptions())
		require.NoError(t, err)
		assert.Empty(t, res.Rev.Added)
		assert.Equal(t, []string{"b1"}, res.Rev.Tagged)
		assert.Equal(t, base.HelpfulCount+1, res.Bullets["b1"].HelpfulCount)
	})

	t.Run("similar content merges when threshold enabled", func(t *testing.T) {
		opts := testPlanOptions()
		opts.SimilarityThreshold = 0.7
		res, err := Plan(snap, []DeltaOp{NewAdd("strategies", base.Content+" aggressively", nil)}, opts)
		require.NoError(t, err)
		assert.Empty(t, res.Rev.Added)
		assert.Equal(t, []string{"b1"}, res.Rev.Tagged)
	})

	t.Run("distinct content adds a bullet", func(t *testing.T) {
		res, err := Plan(snap, []DeltaOp{NewAdd("strategies", "cache lookups before the network hop", nil)}, testPlanOptions())
		require.NoError(t, err)
		require.Len(t, res.Rev.Added, 1)
		sec := findSection(t, res.Sections, "strategies")
		assert.Equal(t, res.Rev.Added[0], sec.BulletIDs[len(sec.BulletIDs)-1])
	})
}

func TestPlanInverses(t *testing.T) {
	snap := seedSnapshot(t)

	t.Run("remove records prior state and ordering", func(t *testing.T) {
		res, err := Plan(snap, []DeltaOp{NewRemove("b1")}, testPlanOptions())
		require.NoError(t, err)
		require.Len(t, res.Rev.Inverses, 1)

		inv := res.Rev.Inverses[0]
		assert.Equal(t, KindAdd, inv.Kind)
		require.NotNil(t, inv.Prior)
		assert.Equal(t, "b1", inv.Prior.ID)
		assert.Equal(t, 0, inv.PriorIndex)
	})

	t.Run("tag inverse carries negated deltas", func(t *testing.T) {
		res, err := Plan(snap, []DeltaOp{NewTag("b1", OutcomeHarmful, "trace-1")}, testPlanOptions())
		require.NoError(t, err)
		require.Len(t, res.Rev.Inverses, 1)
		assert.Equal(t, -1, res.Rev.Inverses[0].HarmfulDelta)
	})

	t.Run("update inverse restores prior content", func(t *testing.T) {
		res, err := Plan(snap, []DeltaOp{NewUpdate("b1", "new text")}, testPlanOptions())
		require.NoError(t, err)
		require.Len(t, res.Rev.Inverses, 1)
		assert.Equal(t, snap.Bullets["b1"].Content, res.Rev.Inverses[0].Content)
	})

	t.Run("update stamps the injected clock", func(t *testing.T) {
		opts := testPlanOptions()
		res, err := Plan(snap, []DeltaOp{NewUpdate("b1", "new text")}, opts)
		require.NoError(t, err)
		assert.Equal(t, opts.Now, res.Bullets["b1"].UpdatedAt)
	})
}

func TestPlanEdgeCases(t *testing.T) {
	snap := seedSnapshot(t)

	t.Run("same content update is skipped", func(t *testing.T) {
		res, err := Plan(snap, []DeltaOp{NewUpdate("b1", snap.Bullets["b1"].Content)}, testPlanOptions())
		require.NoError(t, err)
		assert.Equal(t, []string{"b1"}, res.Rev.Skipped)
		assert.False(t, res.Rev.HasChanges())
	})

	t.Run("tag on unknown bullet fails validation", func(t *testing.T) {
		_, err := Plan(snap, []DeltaOp{NewTag("ghost", OutcomeHelpful, "t")}, testPlanOptions())
		assert.Equal(t, errors.ValidationFailed, errors.CodeOf(err))
	})

	t.Run("repeat remove of a journaled id is a no-op", func(t *testing.T) {
		opts := testPlanOptions()
		opts.RemovedIDs["ghost"] = true
		res, err := Plan(snap, []DeltaOp{NewRemove("ghost")}, opts)
		require.NoError(t, err)
		assert.Equal(t, []string{"ghost"}, res.Rev.Skipped)
	})

	t.Run("add to unknown section without auto-create fails", func(t *testing.T) {
		opts := testPlanOptions()
		opts.AutoCreateSections = false
		_, err := Plan(snap, []DeltaOp{NewAdd("mystery", "content", nil)}, opts)
		assert.Equal(t, errors.ValidationFailed, errors.CodeOf(err))
	})

	t.Run("counters never go negative", func(t *testing.T) {
		op := NewTag("b2", OutcomeHelpful, "t")
		op.HelpfulDelta = -5
		res, err := Plan(snap, []DeltaOp{op}, testPlanOptions())
		require.NoError(t, err)
		assert.Equal(t, 0, res.Bullets["b2"].HelpfulCount)
	})

	t.Run("harmful threshold flags bullets", func(t *testing.T) {
		opts := testPlanOptions()
		opts.HarmfulThreshold = 1
		res, err := Plan(snap, []DeltaOp{NewTag("b2", OutcomeHarmful, "t")}, opts)
		require.NoError(t, err)
		assert.Contains(t, res.Rev.Flagged, "b2")
	})

	t.Run("input snapshot is never mutated", func(t *testing.T) {
		before := snap.Bullets["b1"].HelpfulCount
		_, err := Plan(snap, []DeltaOp{NewTag("b1", OutcomeHelpful, "t")}, testPlanOptions())
		require.NoError(t, err)
		assert.Equal(t, before, snap.Bullets["b1"].HelpfulCount)
	})
}

func testPlanOptions() PlanOptions {
	n := 0
	return PlanOptions{
		AutoCreateSections: true,
		AppliedTagKeys:     make(map[string]bool),
		RemovedIDs:         make(map[string]bool),
		NewID: func() string {
			n++
			return string(rune('a'+n)) + "-generated"
		},
		Now: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func seedSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	created := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	return &Snapshot{
		Version: 3,
		Sections: []Section{
			{Name: "strategies", DisplayName: "Strategies", Ordering: 1, BulletIDs: []string{"b1", "b2"}},
			{Name: "pitfalls", DisplayName: "Pitfalls", Ordering: 2, BulletIDs: []string{"b3"}},
		},
		Bullets: map[string]Bullet{
			"b1": {ID: "b1", Section: "strategies", Content: "prefer batch writes", HelpfulCount: 2, CreatedAt: created, UpdatedAt: created},
			"b2": {ID: "b2", Section: "strategies", Content: "validate inputs early", CreatedAt: created.Add(time.Hour), UpdatedAt: created.Add(time.Hour)},
			"b3": {ID: "b3", Section: "pitfalls", Content: "never swallow context cancellation", HelpfulCount: 1, HarmfulCount: 1, CreatedAt: created, UpdatedAt: created},
		},
	}
}

func findSection(t *testing.T, sections []Section, name string) Section {
	t.Helper()
	for _, sec := range sections {
		if sec.Name == name {
			return sec
		}
	}
	t.Fatalf("section %q not found", name)
	return Section{}
}
