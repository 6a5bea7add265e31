package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "revisions",
		Short: "Show the revision journal",
		Run:   runRevisions,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max revisions, newest last (0 for all)")

	RootCmd.AddCommand(cmd)
}

func runRevisions(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	revs, err := s.Revisions(cmd.Context())
	if err != nil {
		exitErr("revisions", err)
	}
	if limit > 0 && len(revs) > limit {
		revs = revs[len(revs)-limit:]
	}

	if formatFlag == "text" {
		for _, r := range revs {
			fmt.Printf("#%d  %s  by=%s  ops=%d  added=%d updated=%d tagged=%d removed=%d\n",
				r.Seq, r.AppliedAt.Format("2006-01-02 15:04:05"), r.AppliedBy,
				len(r.Ops), len(r.Added), len(r.Updated), len(r.Tagged), len(r.Removed))
		}
		return
	}

	b, _ := json.MarshalIndent(revs, "", "  ")
	fmt.Println(string(b))
}
