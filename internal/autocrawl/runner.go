package autocrawl

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/config"
	"github.com/nps-senti/crawler/internal/crawl"
	"github.com/nps-senti/crawler/internal/discovery/youtube"
	"github.com/nps-senti/crawler/internal/metrics"
	"github.com/nps-senti/crawler/internal/pipeline"
)

// runFunc executes one pipeline pass. Swapped out in tests.
type runFunc func(ctx context.Context, cfg config.Config, opts pipeline.Options) (*crawl.RunStats, error)

func runPipeline(ctx context.Context, cfg config.Config, opts pipeline.Options) (*crawl.RunStats, error) {
	p, err := pipeline.New(cfg, opts, zap.L())
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}

// RoundTotals aggregates the sub-runs of one round.
type RoundTotals struct {
	Stored     int
	Fetched    int
	Discovered int
}

// Runner executes planned rounds and owns the persisted state.
type Runner struct {
	cfg       config.Config
	statePath string
	state     *State
	logger    *zap.Logger

	now func() time.Time
	run runFunc
}

// NewRunner loads (or initializes) the controller state under the output
// root and applies the configured quota parameters to the ledger.
func NewRunner(cfg config.Config, logger *zap.Logger) *Runner {
	statePath := filepath.Join(cfg.Output.Root, StateFileName)
	state := LoadState(statePath, logger)
	if cfg.Autocrawl.YouTube.DailyQuota > 0 {
		state.YouTube.DailyQuota = cfg.Autocrawl.YouTube.DailyQuota
		state.YouTube.ReserveQuota = cfg.Autocrawl.YouTube.ReserveQuota
	}
	return &Runner{
		cfg:       cfg,
		statePath: statePath,
		state:     state,
		logger:    logger,
		now:       time.Now,
		run:       runPipeline,
	}
}

// State exposes the loaded controller state for the status command.
func (r *Runner) State() *State { return r.state }

func (r *Runner) observer() crawl.StoreObserver {
	return func(doc crawl.Document, candidate crawl.Candidate) {
		r.state.RecordStored(doc, candidate, r.now())
	}
}

func (r *Runner) withWindow(window config.TimeWindow) *config.TimeWindow {
	w := window
	return &w
}

// RunRound plans one round from current deficits and executes the pipeline
// once per selected (source, window), then forums once when included. The
// state file is saved at round end regardless of sub-run failures.
func (r *Runner) RunRound(ctx context.Context, p PlanParams) (RoundTotals, error) {
	// Backfill rounds skip comment augmentation unless explicitly enabled;
	// comment pages multiply quota spend per video.
	if _, set := os.LookupEnv("YOUTUBE_COMMENTS_PAGES"); !set {
		os.Setenv("YOUTUBE_COMMENTS_PAGES", "0")
	}

	now := r.now()
	plan := PlanRound(r.cfg.Keywords, r.state, p, now)
	r.logger.Info("planned round",
		zap.Int("gdelt_windows", len(plan.GdeltWindows)),
		zap.Int("youtube_windows", len(plan.YouTubeWindows)),
		zap.Strings("youtube_keywords", plan.YouTubeKeywords),
		zap.Bool("include_forums", plan.IncludeForums))

	var totals RoundTotals
	accumulate := func(stats *crawl.RunStats) {
		if stats == nil {
			return
		}
		totals.Stored += stats.Stored
		totals.Fetched += stats.Fetched
		for _, n := range stats.Discovered {
			totals.Discovered += n
		}
	}

	for _, window := range plan.GdeltWindows {
		stats, err := r.run(ctx, r.cfg, pipeline.Options{
			IncludeSources: map[string]bool{pipeline.SourceKeyGdelt: true},
			MaxFetch:       plan.MaxFetch,
			Window:         r.withWindow(window),
			Observer:       r.observer(),
		})
		if err != nil {
			r.logger.Warn("gdelt window failed", zap.Error(err))
			continue
		}
		accumulate(stats)
	}

	if len(plan.YouTubeKeywords) > 0 {
		budget := len(plan.YouTubeKeywords) * youtube.KeywordCost
		for _, window := range plan.YouTubeWindows {
			stats, err := r.run(ctx, r.cfg, pipeline.Options{
				IncludeSources: map[string]bool{pipeline.SourceKeyYouTube: true},
				MaxFetch:       plan.MaxFetch,
				Window:         r.withWindow(window),
				KeywordFilter:  map[string][]string{pipeline.SourceKeyYouTube: plan.YouTubeKeywords},
				YouTubeBudget:  budget,
				Observer:       r.observer(),
			})
			if err != nil {
				r.logger.Warn("youtube window failed", zap.Error(err))
				continue
			}
			accumulate(stats)
		}
	}

	if plan.IncludeForums {
		stats, err := r.run(ctx, r.cfg, pipeline.Options{
			IncludeSources: map[string]bool{pipeline.SourceKeyForums: true},
			MaxFetch:       plan.MaxFetch,
			Observer:       r.observer(),
		})
		if err != nil {
			r.logger.Warn("forums pass failed", zap.Error(err))
		} else {
			accumulate(stats)
		}
	}

	metrics.ObserveRound()
	if err := r.state.Save(r.statePath, r.now()); err != nil {
		return totals, err
	}
	r.logger.Info("round finished",
		zap.Int("stored", totals.Stored),
		zap.Int("fetched", totals.Fetched),
		zap.Int("discovered", totals.Discovered))
	return totals, nil
}

// Run executes rounds back to back with a pause between them. Context
// cancellation stops cleanly after the in-flight round.
func (r *Runner) Run(ctx context.Context, p PlanParams, rounds int, pause time.Duration) error {
	if rounds < 1 {
		rounds = 1
	}
	for i := 0; i < rounds; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.RunRound(ctx, p); err != nil {
			return err
		}
		if i < rounds-1 && pause > 0 {
			timer := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil
}

// Status describes current deficits and the quota ledger without crawling.
type Status struct {
	Buckets        []string
	Deficits       map[string]map[string]int
	StoredBySource map[string]int
	QuotaAvailable int
	QuotaUsedToday int
	KeywordCursor  int
}

// Status reports the controller's view of the world for the CLI.
func (r *Runner) Status(monthsBack, monthlyTarget int) Status {
	now := r.now()
	buckets, deficits := ComputeDeficits(r.state, monthsBack, monthlyTarget, now)
	return Status{
		Buckets:        buckets,
		Deficits:       deficits,
		StoredBySource: r.state.StoredBySource,
		QuotaAvailable: r.state.YouTube.Available(now),
		QuotaUsedToday: r.state.YouTube.UsedToday,
		KeywordCursor:  r.state.KeywordCursor,
	}
}
