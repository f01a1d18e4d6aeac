package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/formulary-group/ingredient-cli/internal/store"
)

var statusYAML bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-stage pipeline progress",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := st.Counts(ctx)
		if err != nil {
			return eris.Wrap(err, "count stages")
		}

		return printStatus(os.Stdout, counts, statusYAML)
	},
}

func printStatus(w io.Writer, counts *store.StageCounts, asYAML bool) error {
	if asYAML {
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(counts)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(counts)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply store migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd.Context(), "store")
		if err != nil {
			return err
		}
		return st.Close()
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusYAML, "yaml", false, "emit YAML instead of JSON")
	rootCmd.AddCommand(statusCmd, migrateCmd)
}
