package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sections",
		Short: "List playbook sections",
		Run:   runSections,
	}
	RootCmd.AddCommand(cmd)
}

func runSections(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	snap, err := s.Snapshot(cmd.Context())
	if err != nil {
		exitErr("snapshot", err)
	}

	if formatFlag == "text" {
		fmt.Printf("version %d\n", snap.Version)
		for _, sec := range snap.Sections {
			fmt.Printf("%-20s %-30s %d bullets\n", sec.Name, sec.DisplayName, len(sec.BulletIDs))
		}
		return
	}

	type sectionRow struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Bullets     int    `json:"bullets"`
	}
	out := struct {
		Version  int64        `json:"version"`
		Sections []sectionRow `json:"sections"`
	}{Version: snap.Version}
	for _, sec := range snap.Sections {
		out.Sections = append(out.Sections, sectionRow{
			Name:        sec.Name,
			DisplayName: sec.DisplayName,
			Bullets:     len(sec.BulletIDs),
		})
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
