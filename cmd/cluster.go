package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/formulary-group/ingredient-cli/internal/cluster"
)

var clusterUnioned bool

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Rebuild identity clusters over the corpus",
	Long:  "Groups source records by their strongest identity signal (registry number, botanical binomial, standardized name, then bare term), guarding against family registry numbers that span many distinct substances.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close()

		engine := cluster.New(st, cluster.Config{FamilyThreshold: cfg.Cluster.FamilyThreshold})

		var stats *cluster.Stats
		if clusterUnioned {
			stats, err = engine.RebuildUnioned(ctx)
		} else {
			stats, err = engine.Rebuild(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "rebuild clusters")
		}

		zap.L().Info("clustering complete",
			zap.Bool("unioned", clusterUnioned),
			zap.Int("records", stats.Records),
			zap.Int("clusters", stats.Clusters),
			zap.Int("singletons", stats.Singletons),
			zap.Int("family_numbers", stats.FamilyNumbers),
			zap.Int("skipped", stats.Skipped),
		)
		return nil
	},
}

func init() {
	clusterCmd.Flags().BoolVar(&clusterUnioned, "unioned", false, "merge clusters transitively across shared identity signals")
	rootCmd.AddCommand(clusterCmd)
}
