package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/formulary-group/ingredient-cli/internal/dedupe"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Rebuild the merged item-form and canonical-term layers",
	Long:  "Collapses clustered records sharing a (term, variation, form) triple into merged item forms, taking display fields from the highest-priority source and unioning the rest. Then derives one canonical term per identity cluster and links each form to the term owning its members.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close()

		merger := dedupe.New(st, dedupe.Config{SourcePriority: cfg.Merge.SourcePriority})
		stats, err := merger.Rebuild(ctx)
		if err != nil {
			return eris.Wrap(err, "rebuild merged forms")
		}

		zap.L().Info("merge complete",
			zap.Int("records", stats.Records),
			zap.Int("forms", stats.Forms),
			zap.Int("skipped", stats.Skipped),
			zap.Int("conflicts", stats.Conflict),
		)

		termStats, err := dedupe.NewTermBuilder(st).Rebuild(ctx)
		if err != nil {
			return eris.Wrap(err, "rebuild canonical terms")
		}

		zap.L().Info("terms complete",
			zap.Int("clusters", termStats.Clusters),
			zap.Int("terms", termStats.Terms),
			zap.Int("forms_linked", termStats.Linked),
			zap.Int("forms_unlinked", termStats.Unlinked),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}
