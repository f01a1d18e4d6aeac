package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/formulary-group/ingredient-cli/internal/compile"
	"github.com/formulary-group/ingredient-cli/pkg/completion"
)

var (
	compileWorkers  int
	compileLimit    int
	compileSeedOnly bool
)

func compileConfig() compile.Config {
	c := compile.Config{
		Model:         cfg.Anthropic.Model,
		MaxTokens:     int64(cfg.Anthropic.MaxTokens),
		Workers:       cfg.Compile.Workers,
		Limit:         cfg.Compile.Limit,
		ItemBatchSize: cfg.Compile.ItemBatchSize,
	}
	if compileWorkers > 0 {
		c.Workers = compileWorkers
	}
	if compileLimit > 0 {
		c.Limit = compileLimit
	}
	return c
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile canonical terms through the completion service",
	Long:  "Seeds a compilation unit per canonical term, then works through unfinished units: one term-stage request per unit, one item-stage request per linked form. Runs resume where the last one stopped.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "compile")
		if err != nil {
			return err
		}
		defer st.Close()

		client := completion.NewClient(cfg.Anthropic.Key)
		compiler := compile.New(st, client, compileConfig())

		seeded, err := compiler.Seed(ctx)
		if err != nil {
			return eris.Wrap(err, "seed compilation units")
		}
		zap.L().Info("units seeded",
			zap.Int("units", seeded.Units),
			zap.Int("items", seeded.Items),
		)
		if compileSeedOnly {
			return nil
		}

		stats, err := compiler.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "compile run")
		}

		zap.L().Info("compile run complete",
			zap.Int("selected", stats.Selected),
			zap.Int("terms_compiled", stats.TermsCompiled),
			zap.Int("terms_resumed", stats.TermsResumed),
			zap.Int("items_compiled", stats.ItemsCompiled),
			zap.Int("finalized", stats.Finalized),
			zap.Int("unit_errors", stats.UnitErrors),
			zap.Int("item_errors", stats.ItemErrors),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	compileCmd.Flags().IntVar(&compileWorkers, "workers", 0, "concurrent units in flight (overrides config)")
	compileCmd.Flags().IntVar(&compileLimit, "limit", 0, "cap candidate units this run (0 = all)")
	compileCmd.Flags().BoolVar(&compileSeedOnly, "seed-only", false, "seed units without running compilation")
	rootCmd.AddCommand(compileCmd)
}
