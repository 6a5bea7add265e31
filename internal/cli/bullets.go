package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "bullets <section>",
		Short: "List a section's bullets in insertion order",
		Args:  cobra.ExactArgs(1),
		Run:   runBullets,
	}
	RootCmd.AddCommand(cmd)
}

func runBullets(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	bullets, err := s.ReadSection(cmd.Context(), args[0])
	if err != nil {
		exitErr("read section", err)
	}

	if formatFlag == "text" {
		for _, b := range bullets {
			fmt.Printf("%s  +%d/-%d  %s\n", b.ID, b.HelpfulCount, b.HarmfulCount, b.Content)
		}
		return
	}

	b, _ := json.MarshalIndent(bullets, "", "  ")
	fmt.Println(string(b))
}
