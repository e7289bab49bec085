package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/pipeline"
)

// newRunCmd creates the 'run' subcommand: one full pipeline pass.
func newRunCmd() *cobra.Command {
	var (
		maxFetch   int
		only       []string
		forumSites []string
		noGdelt    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one crawl pass across the enabled sources",
		Long: `Discovers candidates from the configured sources, fetches them under
politeness constraints, extracts and scores text, and appends accepted
documents to the per-source JSONL files. Per-candidate failures are
counted in the run stats, never fatal.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if noGdelt {
				cfg.Gdelt.Enabled = false
			}
			include, err := parseSourceKeys(only)
			if err != nil {
				return err
			}

			p, err := pipeline.New(cfg, pipeline.Options{
				IncludeSources: include,
				ForumSites:     toSet(forumSites),
				MaxFetch:       maxFetch,
			}, logger)
			if err != nil {
				return fmt.Errorf("init pipeline: %w", err)
			}

			stats, err := p.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("run pipeline: %w", err)
			}
			logger.Info("run complete",
				zap.Int("stored", stats.Stored),
				zap.Int("fetched", stats.Fetched),
				zap.Int("duplicates", stats.Duplicates),
				zap.Int("index_size", p.Index().Len()))
			return nil
		},
	}

	cmd.Flags().IntVar(&maxFetch, "max-fetch", 0, "cap fetch attempts this run (0 = unlimited)")
	cmd.Flags().StringSliceVar(&only, "only", nil, "run only these logical sources (gdelt, youtube, forums)")
	cmd.Flags().StringSliceVar(&forumSites, "forum-site", nil, "limit forums to these site keys")
	cmd.Flags().BoolVar(&noGdelt, "no-gdelt", false, "disable the news-index source for this run")
	return cmd
}

func parseSourceKeys(keys []string) (map[string]bool, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	valid := map[string]bool{
		pipeline.SourceKeyGdelt:   true,
		pipeline.SourceKeyYouTube: true,
		pipeline.SourceKeyForums:  true,
	}
	include := make(map[string]bool, len(keys))
	for _, key := range keys {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if !valid[key] {
			return nil, fmt.Errorf("unknown source %q (want gdelt, youtube or forums)", key)
		}
		include[key] = true
	}
	return include, nil
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			set[v] = true
		}
	}
	return set
}
