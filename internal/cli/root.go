// Package cli implements the ace-cli administrative commands.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/acelabs/ace-go/pkg/config"
	"github.com/acelabs/ace-go/pkg/playbook"
)

var (
	dbPath     string
	configPath string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "ace-cli",
	Short: "Inspect and administer a playbook store",
	Long:  "Administrative surface for the agentic learning playbook: list sections and bullets, browse the revision journal, submit manual deltas, and roll back bad commits.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Playbook database path (default: $ACE_PLAYBOOK_DB or ~/.ace/playbook.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func getDBPath(cfg *config.Config) string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("ACE_PLAYBOOK_DB"); env != "" {
		return env
	}
	if cfg != nil && cfg.Store.Path != "" {
		return cfg.Store.Path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ace", "playbook.db")
}

func openStore() (*playbook.SQLiteStore, error) {
	opts := playbook.StoreOptions{AutoCreateSections: true}

	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = &loaded
		opts.SimilarityThreshold = cfg.Curation.SimilarityThreshold
		opts.HarmfulThreshold = cfg.Curation.RemovalThreshold
	}

	return playbook.NewSQLiteStore(getDBPath(cfg), opts)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
