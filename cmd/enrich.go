package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/formulary-group/ingredient-cli/internal/enrich"
	"github.com/formulary-group/ingredient-cli/internal/resilience"
	"github.com/formulary-group/ingredient-cli/internal/store"
	"github.com/formulary-group/ingredient-cli/pkg/registry"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich the corpus against the identity registry",
	Long:  "Matches terms and merged forms to external registry identities, fetches property bundles for the matched identities, and fills the matched forms' missing attributes. Existing values are never overwritten.",
}

func registryClient() registry.Client {
	circuit := resilience.NewCircuit(resilience.FromCircuitConfig(
		cfg.Registry.CircuitThreshold, cfg.Registry.CircuitResetSecs))
	return registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.Key,
		registry.WithRateLimit(cfg.Registry.RateLimit),
		registry.WithMaxIDsPerRequest(cfg.Registry.MaxIDsPerRequest),
		registry.WithCircuit(circuit),
	)
}

func enrichConfig() enrich.Config {
	return enrich.Config{
		Workers: cfg.Enrich.Workers,
		Retry: resilience.FromRetryConfig(
			cfg.Enrich.RetryAttempts,
			cfg.Enrich.InitialBackoffMs,
			cfg.Enrich.MaxBackoffMs,
			0, -1,
		),
	}
}

func runMatch(ctx context.Context, st store.Store) error {
	matcher := enrich.NewMatcher(st, registryClient(), enrichConfig())
	stats, err := matcher.Run(ctx)
	if err != nil {
		return eris.Wrap(err, "match registry identities")
	}
	zap.L().Info("matching complete",
		zap.Int("attempted", stats.Attempted),
		zap.Int("matched", stats.Matched),
		zap.Int("no_match", stats.NoMatch),
		zap.Int("ambiguous", stats.Ambiguous),
		zap.Int("errors", stats.Errors),
	)
	return nil
}

func runFetch(ctx context.Context, st store.Store) error {
	fetcher := enrich.NewFetcher(st, registryClient(), enrichConfig())
	stats, err := fetcher.Run(ctx)
	if err != nil {
		return eris.Wrap(err, "fetch registry bundles")
	}
	zap.L().Info("fetch complete",
		zap.Int("matched_ids", stats.MatchedIDs),
		zap.Int("cached", stats.Cached),
		zap.Int("fetched", stats.Fetched),
	)
	return nil
}

func runApply(ctx context.Context, st store.Store) error {
	applier := enrich.NewApplier(st)
	stats, err := applier.Run(ctx)
	if err != nil {
		return eris.Wrap(err, "apply registry bundles")
	}
	zap.L().Info("apply complete",
		zap.Int("matched", stats.Matched),
		zap.Int("applied", stats.Applied),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("no_bundle", stats.NoBundle),
	)
	return nil
}

func enrichRunE(steps ...func(context.Context, store.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "enrich")
		if err != nil {
			return err
		}
		defer st.Close()

		for _, step := range steps {
			if err := step(ctx, st); err != nil {
				return err
			}
		}
		return nil
	}
}

var enrichMatchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match unmatched terms and forms against the registry",
	RunE:  enrichRunE(runMatch),
}

var enrichFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch property bundles for matched identities",
	RunE:  enrichRunE(runFetch),
}

var enrichApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Fill matched forms' missing attributes from cached bundles",
	RunE:  enrichRunE(runApply),
}

var enrichAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Run match, fetch, and apply in sequence",
	RunE:  enrichRunE(runMatch, runFetch, runApply),
}

func init() {
	enrichCmd.AddCommand(enrichMatchCmd, enrichFetchCmd, enrichApplyCmd, enrichAllCmd)
	rootCmd.AddCommand(enrichCmd)
}
