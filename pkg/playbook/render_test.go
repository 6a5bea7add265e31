package playbook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildContextBlock(t *testing.T) {
	t.Run("nil for empty playbook", func(t *testing.T) {
		assert.Nil(t, BuildContextBlock(nil, 5))
		assert.Nil(t, BuildContextBlock(&Snapshot{Bullets: map[string]Bullet{}}, 5))
	})

	t.Run("ranks by net score then recency", func(t *testing.T) {
		snap := seedSnapshot(t)
		block := BuildContextBlock(snap, 2)
		require.NotNil(t, block)

		// b1 has score 2; b2 and b3 both score 0, b2 is newer.
		assert.Equal(t, []string{"b1", "b2"}, block.BulletIDs)
	})

	t.Run("renders citation markers with section labels", func(t *testing.T) {
		snap := seedSnapshot(t)
		block := BuildContextBlock(snap, 10)
		require.NotNil(t, block)

		assert.Contains(t, block.Instructions, "[ACE:b1] (Strategies) prefer batch writes")
		assert.Contains(t, block.Instructions, "cite it as [ACE:<strategy_id>]")
		assert.Len(t, block.BulletIDs, 3)
	})

	t.Run("caps at max strategies", func(t *testing.T) {
		snap := seedSnapshot(t)
		block := BuildContextBlock(snap, 1)
		require.NotNil(t, block)
		assert.Equal(t, []string{"b1"}, block.BulletIDs)
		assert.Equal(t, 1, strings.Count(block.Instructions, "- [ACE:"))
	})
}

func TestMergeInstructions(t *testing.T) {
	assert.Equal(t, "base", MergeInstructions("base", nil))

	merged := MergeInstructions("base", &ContextBlock{Instructions: "appendix"})
	assert.Equal(t, "base\n\nappendix", merged)
}

func TestExtractCitations(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "distinct ids in first appearance order",
			text: "Used [ACE:b2] then [ACE:b1], and [ACE:b2] again.",
			want: []string{"b2", "b1"},
		},
		{
			name: "no markers",
			text: "plain response with no citations",
			want: nil,
		},
		{
			name: "ids with separators",
			text: "see [ACE:01J.foo_bar-9]",
			want: []string{"01J.foo_bar-9"},
		},
		{
			name: "malformed markers ignored",
			text: "[ACE:] [ACE b1] [ace:b1]",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCitations(tt.text))
		})
	}
}
