package playbook

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var citationPattern = regexp.MustCompile(`\[ACE:([a-zA-Z0-9_.-]+)\]`)

// ContextBlock is a formatted instruction appendix plus the bullet ids it
// references, ready for injection into a Generator prompt.
type ContextBlock struct {
	Instructions string
	BulletIDs    []string
}

// BuildContextBlock selects the top strategies from a snapshot, ranked by
// net score then recency, and renders them with citation markers. Returns
// nil when the playbook is empty.
func BuildContextBlock(snap *Snapshot, maxStrategies int) *ContextBlock {
	if snap == nil || len(snap.Bullets) == 0 {
		return nil
	}
	if maxStrategies < 1 {
		maxStrategies = 1
	}

	bullets := make([]Bullet, 0, len(snap.Bullets))
	for _, b := range snap.Bullets {
		bullets = append(bullets, b)
	}
	sort.Slice(bullets, func(i, j int) bool {
		if bullets[i].Score() != bullets[j].Score() {
			return bullets[i].Score() > bullets[j].Score()
		}
		return bullets[i].CreatedAt.After(bullets[j].CreatedAt)
	})
	if len(bullets) > maxStrategies {
		bullets = bullets[:maxStrategies]
	}

	displayNames := make(map[string]string, len(snap.Sections))
	for _, sec := range snap.Sections {
		displayNames[sec.Name] = sec.DisplayName
	}

	var sb strings.Builder
	sb.WriteString("ACE Strategy Playbook:\n")
	sb.WriteString("When you leverage a strategy, cite it as [ACE:<strategy_id>] so reflections can track usage.\n")

	ids := make([]string, 0, len(bullets))
	for _, b := range bullets {
		label := displayNames[b.Section]
		if label == "" {
			label = b.Section
		}
		fmt.Fprintf(&sb, "- [ACE:%s] (%s) %s\n", b.ID, label, strings.TrimSpace(b.Content))
		ids = append(ids, b.ID)
	}

	return &ContextBlock{
		Instructions: strings.TrimRight(sb.String(), "\n"),
		BulletIDs:    ids,
	}
}

// MergeInstructions appends the context block to base instructions.
func MergeInstructions(base string, block *ContextBlock) string {
	if block == nil {
		return base
	}
	return base + "\n\n" + block.Instructions
}

// ExtractCitations returns the distinct bullet ids referenced via
// [ACE:<id>] markers, in order of first appearance.
func ExtractCitations(text string) []string {
	matches := citationPattern.FindAllStringSubmatch(text, -1)
	var ids []string
	seen := make(map[string]bool)
	for _, m := range matches {
		if len(m) > 1 && !seen[m[1]] {
			ids = append(ids, m[1])
			seen[m[1]] = true
		}
	}
	return ids
}
