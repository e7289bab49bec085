package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/autocrawl"
	"github.com/nps-senti/crawler/internal/config"
)

// newAutocrawlCmd groups the round controller commands.
func newAutocrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autocrawl",
		Short: "Deficit-driven backfill controller",
		Long: `Plans crawl rounds from per-month stored counts: months short of
their target get backfill windows, the YouTube quota ledger meters API
spend, and controller state persists under the output root.`,
	}
	cmd.AddCommand(newAutocrawlRunCmd())
	cmd.AddCommand(newAutocrawlStatusCmd())
	return cmd
}

// planParams merges config defaults with the flags the user actually set.
func planParams(cmd *cobra.Command, cfg config.Config) autocrawl.PlanParams {
	p := autocrawl.PlanParams{
		MonthsBack:         cfg.Autocrawl.MonthsBack,
		MonthlyTarget:      cfg.Autocrawl.MonthlyTargetPerSource,
		MaxFetch:           cfg.Autocrawl.Round.MaxFetch,
		MaxGdeltWindows:    cfg.Autocrawl.Round.MaxGdeltWindows,
		MaxYouTubeWindows:  cfg.Autocrawl.Round.MaxYouTubeWindows,
		MaxYouTubeKeywords: cfg.Autocrawl.Round.MaxYouTubeKeywords,
		MaxForumsWindows:   cfg.Autocrawl.Round.MaxForumsWindows,
		IncludeForums:      cfg.Autocrawl.IncludeForums,
	}
	flags := cmd.Flags()
	if flags.Changed("months-back") {
		p.MonthsBack, _ = flags.GetInt("months-back")
	}
	if flags.Changed("monthly-target") {
		p.MonthlyTarget, _ = flags.GetInt("monthly-target")
	}
	if flags.Changed("max-fetch") {
		p.MaxFetch, _ = flags.GetInt("max-fetch")
	}
	if flags.Changed("max-gdelt-windows") {
		p.MaxGdeltWindows, _ = flags.GetInt("max-gdelt-windows")
	}
	if flags.Changed("max-youtube-windows") {
		p.MaxYouTubeWindows, _ = flags.GetInt("max-youtube-windows")
	}
	if flags.Changed("max-youtube-keywords") {
		p.MaxYouTubeKeywords, _ = flags.GetInt("max-youtube-keywords")
	}
	if flags.Changed("max-forums-windows") {
		p.MaxForumsWindows, _ = flags.GetInt("max-forums-windows")
	}
	if flags.Changed("include-forums") {
		p.IncludeForums, _ = flags.GetBool("include-forums")
	}
	if p.MonthsBack < 1 {
		p.MonthsBack = 1
	}
	return p
}

func addPlanFlags(cmd *cobra.Command) {
	cmd.Flags().Int("months-back", 0, "trailing months to consider (default from config)")
	cmd.Flags().Int("monthly-target", 0, "stored documents wanted per month per source")
	cmd.Flags().Int("max-fetch", 0, "fetch cap per pipeline pass")
	cmd.Flags().Int("max-gdelt-windows", 0, "news-index windows per round")
	cmd.Flags().Int("max-youtube-windows", 0, "video windows per round")
	cmd.Flags().Int("max-youtube-keywords", 0, "video keywords per round")
	cmd.Flags().Int("max-forums-windows", 0, "forum passes per round")
	cmd.Flags().Bool("include-forums", true, "crawl forum boards each round")
}

func newAutocrawlRunCmd() *cobra.Command {
	var (
		rounds   int
		sleepSec int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Executes backfill rounds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			runner := autocrawl.NewRunner(cfg, logger)
			p := planParams(cmd, cfg)
			logger.Info("starting autocrawl",
				zap.Int("rounds", rounds),
				zap.Int("sleep_sec", sleepSec),
				zap.Int("months_back", p.MonthsBack),
				zap.Int("monthly_target", p.MonthlyTarget))
			if err := runner.Run(cmd.Context(), p, rounds, time.Duration(sleepSec)*time.Second); err != nil {
				return fmt.Errorf("autocrawl: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 1, "rounds to execute")
	cmd.Flags().IntVar(&sleepSec, "sleep-sec", 0, "pause between rounds in seconds")
	addPlanFlags(cmd)
	return cmd
}

func newAutocrawlStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Prints deficits and the quota ledger without crawling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			runner := autocrawl.NewRunner(cfg, logger)
			p := planParams(cmd, cfg)
			status := runner.Status(p.MonthsBack, p.MonthlyTarget)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "monthly target per source: %d\n", p.MonthlyTarget)
			fmt.Fprintln(out, "deficits (month: gdelt/youtube/forums):")
			for _, bucket := range status.Buckets {
				d := status.Deficits[bucket]
				fmt.Fprintf(out, "  %s: %d/%d/%d\n", bucket, d["gdelt"], d["youtube"], d["forums"])
			}
			fmt.Fprintln(out, "stored by source:")
			sources := make([]string, 0, len(status.StoredBySource))
			for src := range status.StoredBySource {
				sources = append(sources, src)
			}
			sort.Strings(sources)
			for _, src := range sources {
				fmt.Fprintf(out, "  %s: %d\n", src, status.StoredBySource[src])
			}
			fmt.Fprintf(out, "youtube quota: available=%d used_today=%d keyword_cursor=%d\n",
				status.QuotaAvailable, status.QuotaUsedToday, status.KeywordCursor)
			return nil
		},
	}
	addPlanFlags(cmd)
	return cmd
}
