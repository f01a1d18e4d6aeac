package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/formulary-group/ingredient-cli/internal/feed"
)

var (
	ingestCSVPath  string
	ingestXLSXPath string
	ingestSheet    string
	ingestSource   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a source feed into the corpus",
	Long:  "Reads raw ingredient listings from a CSV or XLSX export, parses each name into term, variation, and form, and upserts the records. Re-ingesting the same feed is idempotent.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var f feed.Feed
		switch {
		case ingestCSVPath != "" && ingestXLSXPath != "":
			return eris.New("pass either --csv or --xlsx, not both")
		case ingestCSVPath != "":
			f = &feed.CSVFeed{Path: ingestCSVPath, Source: ingestSource}
		case ingestXLSXPath != "":
			f = &feed.XLSXFeed{Path: ingestXLSXPath, Source: ingestSource, Sheet: ingestSheet}
		default:
			return eris.New("a feed file is required (--csv or --xlsx)")
		}

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := feed.Ingest(ctx, st, f)
		if err != nil {
			return eris.Wrap(err, "ingest feed")
		}

		zap.L().Info("ingest complete",
			zap.String("source", ingestSource),
			zap.Int("records", stats.Records),
			zap.Int("parsed", stats.Parsed),
			zap.Int("orphans", stats.Orphans),
		)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCSVPath, "csv", "", "path to CSV feed export")
	ingestCmd.Flags().StringVar(&ingestXLSXPath, "xlsx", "", "path to XLSX feed export")
	ingestCmd.Flags().StringVar(&ingestSheet, "sheet", "", "XLSX sheet name (first sheet when empty)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source label for this feed (required)")
	_ = ingestCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(ingestCmd)
}
