package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/formulary-group/ingredient-cli/internal/compile"
	"github.com/formulary-group/ingredient-cli/pkg/completion"
)

var (
	batchExportPath string
	batchID         string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run compilation through the batch completion API",
	Long:  "Submits pending compilation work as one completion batch, polls it, and collects results back through the same state transitions as a sync run.",
}

func batchCompiler(cmd *cobra.Command) (*compile.Compiler, func(), error) {
	ctx := cmd.Context()

	st, err := openStore(ctx, "batch")
	if err != nil {
		return nil, nil, err
	}

	client := completion.NewClient(cfg.Anthropic.Key)
	return compile.New(st, client, compileConfig()), func() { st.Close() }, nil
}

var batchSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit pending work as a completion batch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		compiler, closeStore, err := batchCompiler(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		stats, err := compiler.SubmitBatch(cmd.Context(), batchExportPath)
		if err != nil {
			return eris.Wrap(err, "submit batch")
		}
		if stats.Requests == 0 {
			zap.L().Info("nothing to submit")
			return nil
		}

		zap.L().Info("batch submitted",
			zap.String("batch_id", stats.BatchID),
			zap.Int("units", stats.Units),
			zap.Int("items", stats.Items),
			zap.Int("requests", stats.Requests),
		)
		return nil
	},
}

var batchPollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll a batch until it ends",
	RunE: func(cmd *cobra.Command, _ []string) error {
		compiler, closeStore, err := batchCompiler(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		resp, err := compiler.PollBatch(cmd.Context(), batchID)
		if err != nil {
			return eris.Wrap(err, "poll batch")
		}

		zap.L().Info("batch ended",
			zap.String("batch_id", resp.ID),
			zap.String("status", resp.ProcessingStatus),
			zap.Int64("succeeded", resp.RequestCounts.Succeeded),
			zap.Int64("errored", resp.RequestCounts.Errored),
			zap.Int64("expired", resp.RequestCounts.Expired),
		)
		return nil
	},
}

var batchCollectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect an ended batch's results into the corpus",
	RunE: func(cmd *cobra.Command, _ []string) error {
		compiler, closeStore, err := batchCompiler(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		stats, err := compiler.CollectBatch(cmd.Context(), batchID)
		if err != nil {
			return eris.Wrap(err, "collect batch")
		}

		zap.L().Info("batch collected",
			zap.String("batch_id", batchID),
			zap.Int("terms_compiled", stats.TermsCompiled),
			zap.Int("items_compiled", stats.ItemsCompiled),
			zap.Int("finalized", stats.Finalized),
			zap.Int("unit_errors", stats.UnitErrors),
			zap.Int("item_errors", stats.ItemErrors),
		)
		return nil
	},
}

func init() {
	batchSubmitCmd.Flags().StringVar(&batchExportPath, "export", "", "also write the request set as jsonl to this path")

	batchPollCmd.Flags().StringVar(&batchID, "id", "", "batch ID (required)")
	_ = batchPollCmd.MarkFlagRequired("id")

	batchCollectCmd.Flags().StringVar(&batchID, "id", "", "batch ID (required)")
	_ = batchCollectCmd.MarkFlagRequired("id")

	batchCmd.AddCommand(batchSubmitCmd, batchPollCmd, batchCollectCmd)
	rootCmd.AddCommand(batchCmd)
}
