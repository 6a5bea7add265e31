package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rollback <seq>",
		Short: "Undo a committed revision",
		Long: `Undo the revision with the given sequence number by committing its
inverse operations as a new revision. Fails when later revisions touched
the same bullets; --force rolls those back too, newest first.`,
		Args: cobra.ExactArgs(1),
		Run:  runRollback,
	}

	cmd.Flags().Bool("force", false, "Cascade over later conflicting revisions")

	RootCmd.AddCommand(cmd)
}

func runRollback(cmd *cobra.Command, args []string) {
	seq, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		exitErr("parse seq", err)
	}
	force, _ := cmd.Flags().GetBool("force")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	rev, err := s.Rollback(cmd.Context(), seq, force)
	if err != nil {
		exitErr("rollback", err)
	}

	if formatFlag == "text" {
		fmt.Printf("rolled back #%d as revision #%d\n", seq, rev.Seq)
		return
	}

	b, _ := json.MarshalIndent(rev, "", "  ")
	fmt.Println(string(b))
}
