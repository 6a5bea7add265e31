package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/acelabs/ace-go/pkg/playbook"
)

func init() {
	cmd := &cobra.Command{
		Use:   "apply <delta-file.yaml>",
		Short: "Submit a manual delta batch from a YAML file",
		Long: `Apply a hand-written delta batch. The file lists operations the same
way the curator proposes them:

  applied_by: operator
  description: seed initial strategies
  ops:
    - kind: ADD
      section: strategies
      content: prefer batch writes over per-row commits
    - kind: TAG
      bullet_id: 01HX...
      outcome: helpful
      trace_id: manual-review-1
    - kind: REMOVE
      bullet_id: 01HY...`,
		Args: cobra.ExactArgs(1),
		Run:  runApply,
	}

	cmd.Flags().Int64("base-version", 0, "Snapshot version the batch was computed against (0 skips the conflict check)")

	RootCmd.AddCommand(cmd)
}

type deltaFileOp struct {
	Kind     string            `yaml:"kind"`
	BulletID string            `yaml:"bullet_id"`
	Section  string            `yaml:"section"`
	Content  string            `yaml:"content"`
	Outcome  string            `yaml:"outcome"`
	TraceID  string            `yaml:"trace_id"`
	Metadata map[string]string `yaml:"metadata"`
}

type deltaFile struct {
	AppliedBy   string        `yaml:"applied_by"`
	Description string        `yaml:"description"`
	Ops         []deltaFileOp `yaml:"ops"`
}

func (op deltaFileOp) toDelta() (playbook.DeltaOp, error) {
	switch playbook.DeltaKind(strings.ToUpper(op.Kind)) {
	case playbook.KindAdd:
		return playbook.NewAdd(op.Section, op.Content, op.Metadata), nil
	case playbook.KindUpdate:
		return playbook.NewUpdate(op.BulletID, op.Content), nil
	case playbook.KindTag:
		return playbook.NewTag(op.BulletID, playbook.Outcome(strings.ToLower(op.Outcome)), op.TraceID), nil
	case playbook.KindRemove:
		return playbook.NewRemove(op.BulletID), nil
	default:
		return playbook.DeltaOp{}, fmt.Errorf("unknown op kind %q", op.Kind)
	}
}

func runApply(cmd *cobra.Command, args []string) {
	baseVersion, _ := cmd.Flags().GetInt64("base-version")

	data, err := os.ReadFile(args[0])
	if err != nil {
		exitErr("read delta file", err)
	}

	var file deltaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		exitErr("parse delta file", err)
	}
	if file.AppliedBy == "" {
		file.AppliedBy = "ace-cli"
	}

	ops := make([]playbook.DeltaOp, 0, len(file.Ops))
	for i, raw := range file.Ops {
		op, err := raw.toDelta()
		if err != nil {
			exitErr(fmt.Sprintf("op %d", i), err)
		}
		ops = append(ops, op)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	rev, err := s.Apply(cmd.Context(), ops, playbook.ApplyOptions{
		BaseVersion: baseVersion,
		AppliedBy:   file.AppliedBy,
		Description: file.Description,
	})
	if err != nil {
		exitErr("apply", err)
	}

	if formatFlag == "text" {
		fmt.Printf("committed revision #%d: added=%d updated=%d tagged=%d removed=%d skipped=%d\n",
			rev.Seq, len(rev.Added), len(rev.Updated), len(rev.Tagged), len(rev.Removed), len(rev.Skipped))
		return
	}

	b, _ := json.MarshalIndent(rev, "", "  ")
	fmt.Println(string(b))
}
