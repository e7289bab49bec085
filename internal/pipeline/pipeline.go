// Package pipeline wires discovery, fetch, extraction and storage into one
// run. A run is the unit both the CLI and the autocrawl controller execute.
package pipeline

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nps-senti/crawler/internal/config"
	"github.com/nps-senti/crawler/internal/crawl"
	"github.com/nps-senti/crawler/internal/discovery/forums"
	"github.com/nps-senti/crawler/internal/discovery/gdelt"
	"github.com/nps-senti/crawler/internal/discovery/youtube"
	"github.com/nps-senti/crawler/internal/extract"
	"github.com/nps-senti/crawler/internal/fetch"
	"github.com/nps-senti/crawler/internal/metrics"
	"github.com/nps-senti/crawler/internal/storage"
	"github.com/nps-senti/crawler/internal/urlutil"
)

// Logical source keys accepted by the --only filter. Forum sites are
// selected separately through ForumSites.
const (
	SourceKeyGdelt   = "gdelt"
	SourceKeyYouTube = "youtube"
	SourceKeyForums  = "forums"
)

// Options narrow a single run. The zero value runs every enabled source
// with the configured window and no fetch cap.
type Options struct {
	// IncludeSources limits the run to the named logical sources
	// (gdelt, youtube, forums). Empty means all.
	IncludeSources map[string]bool
	// ForumSites limits forums discovery to the named site keys.
	ForumSites map[string]bool
	// MaxFetch caps fetch attempts for this run. Zero means unlimited.
	MaxFetch int
	// Window overrides the configured time window (autocrawl backfill).
	Window *config.TimeWindow
	// KeywordFilter restricts keywords per logical source. The autocrawl
	// scheduler uses it to run a youtube keyword subset per round.
	KeywordFilter map[string][]string
	// YouTubeBudget is the estimated quota ceiling for this run's youtube
	// discovery. Zero means unlimited.
	YouTubeBudget int
	// Observer fires after each durable store.
	Observer crawl.StoreObserver
}

// Pipeline owns the shared fetcher, extractor, writer and index for a run.
type Pipeline struct {
	cfg    config.Config
	opts   Options
	logger *zap.Logger

	client    *http.Client
	robots    crawl.RobotsPolicy
	fetcher   crawl.Fetcher
	extractor *extract.Extractor
	writer    *storage.Writer
	index     *storage.IndexStore

	// set during discovery so the controller can read quota spend
	youtubeUnits int
}

// New builds a Pipeline over the shared politeness and storage layers.
func New(cfg config.Config, opts Options, logger *zap.Logger) (*Pipeline, error) {
	timeout := time.Duration(cfg.Limits.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	robots := fetch.NewRobotsEnforcer(true, cfg.Politeness.UserAgent, logger)
	fetcher, err := fetch.New(fetch.Options{
		UserAgent:    cfg.Politeness.UserAgent,
		Timeout:      timeout,
		PerDomainMax: cfg.Politeness.PerDomainMax,
		Delay:        time.Duration(cfg.Limits.FetchPauseSec * float64(time.Second)),
		Retry: fetch.RetryPolicy{
			MaxRetries: cfg.Politeness.MaxRetries,
			Initial:    time.Duration(cfg.Politeness.BackoffInitialMs) * time.Millisecond,
			Max:        time.Duration(cfg.Politeness.BackoffMaxMs) * time.Millisecond,
		},
	}, robots, logger)
	if err != nil {
		return nil, err
	}
	writer, err := storage.NewWriter(cfg.Output.Root)
	if err != nil {
		return nil, err
	}
	index, err := storage.OpenIndex(cfg.Output.Root, logger)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:       cfg,
		opts:      opts,
		logger:    logger,
		client:    &http.Client{Timeout: timeout},
		robots:    robots,
		fetcher:   fetcher,
		extractor: extract.New(cfg.Keywords, cfg.Lang, cfg.Quality, extract.OptionsFromEnv(), logger),
		writer:    writer,
		index:     index,
	}, nil
}

// YouTubeUnitsUsed reports the estimated quota spent by the last Run.
func (p *Pipeline) YouTubeUnitsUsed() int { return p.youtubeUnits }

// Index exposes the run's document index. The autocrawl status command
// reads it without crawling.
func (p *Pipeline) Index() *storage.IndexStore { return p.index }

type sourceBatch struct {
	source     crawl.Source
	candidates []crawl.Candidate
}

func (p *Pipeline) shouldRun(key string) bool {
	return len(p.opts.IncludeSources) == 0 || p.opts.IncludeSources[key]
}

func (p *Pipeline) keywordsFor(key string) []string {
	if p.opts.KeywordFilter != nil {
		if kws, ok := p.opts.KeywordFilter[key]; ok {
			return kws
		}
	}
	return p.cfg.Keywords
}

func (p *Pipeline) window() config.TimeWindow {
	if p.opts.Window != nil {
		return *p.opts.Window
	}
	return p.cfg.TimeWindow
}

func (p *Pipeline) trim(candidates []crawl.Candidate) []crawl.Candidate {
	max := p.cfg.Limits.MaxCandidatesPerSource
	if max > 0 && len(candidates) > max {
		return candidates[:max]
	}
	return candidates
}

// discover runs every selected discoverer and returns per-source batches in
// discovery order. A discoverer error drops that source, never the run.
func (p *Pipeline) discover(ctx context.Context) []sourceBatch {
	var batches []sourceBatch

	if p.shouldRun(SourceKeyGdelt) && p.cfg.Gdelt.Enabled {
		d := gdelt.New(p.client, p.keywordsFor(SourceKeyGdelt), p.cfg.Lang, p.window(), p.cfg.Gdelt, p.logger)
		candidates, err := d.Discover(ctx)
		if err != nil {
			p.logger.Warn("gdelt discovery failed", zap.Error(err))
		} else {
			batches = append(batches, sourceBatch{crawl.SourceGDELT, p.trim(candidates)})
		}
	}

	if p.shouldRun(SourceKeyYouTube) {
		opts := extract.OptionsFromEnv()
		d := youtube.New(opts.YouTubeAPIKey, p.keywordsFor(SourceKeyYouTube), p.window(),
			p.cfg.YouTube, p.opts.YouTubeBudget, p.client, p.logger)
		candidates, err := d.Discover(ctx)
		p.youtubeUnits = d.UnitsUsed()
		if err != nil {
			p.logger.Warn("youtube discovery failed", zap.Error(err))
		} else {
			batches = append(batches, sourceBatch{crawl.SourceYouTube, p.trim(candidates)})
		}
	}

	if p.shouldRun(SourceKeyForums) {
		sites := p.forumSites()
		if len(sites) > 0 {
			d := forums.New(p.client, sites, p.robots, p.logger)
			candidates, err := d.Discover(ctx)
			if err != nil {
				p.logger.Warn("forum discovery failed", zap.Error(err))
			} else {
				for _, batch := range groupBySite(candidates) {
					batch.candidates = p.trim(batch.candidates)
					batches = append(batches, batch)
				}
			}
		}
	}
	return batches
}

func (p *Pipeline) forumSites() map[string]config.ForumSite {
	if len(p.opts.ForumSites) == 0 {
		return p.cfg.Forums
	}
	filtered := make(map[string]config.ForumSite, len(p.opts.ForumSites))
	for site, siteCfg := range p.cfg.Forums {
		if p.opts.ForumSites[site] {
			filtered[site] = siteCfg
		}
	}
	return filtered
}

// groupBySite splits the flattened forum candidates back into per-site
// batches, preserving first-seen site order.
func groupBySite(candidates []crawl.Candidate) []sourceBatch {
	order := make([]crawl.Source, 0, 4)
	bySite := make(map[crawl.Source][]crawl.Candidate)
	for _, c := range candidates {
		if _, ok := bySite[c.Source]; !ok {
			order = append(order, c.Source)
		}
		bySite[c.Source] = append(bySite[c.Source], c)
	}
	batches := make([]sourceBatch, 0, len(order))
	for _, site := range order {
		batches = append(batches, sourceBatch{site, bySite[site]})
	}
	return batches
}

// fetchOrder puts community threads first and video metadata last. Forum
// listings churn fastest, so they get the fetch budget before the stabler
// news and video sources.
var fetchOrder = []crawl.Source{
	crawl.SourceDCInside,
	crawl.SourceBobaedream,
	crawl.SourceMLBPark,
	crawl.SourceTheqoo,
	crawl.SourcePpomppu,
	crawl.SourceGDELT,
	crawl.SourceYouTube,
}

// skippable filters out URLs that should never be fetched: robots files the
// news index sometimes returns, and bare-host captures with no article path.
func skippable(rawURL, norm string) bool {
	if strings.HasSuffix(strings.ToLower(rawURL), "robots.txt") {
		return true
	}
	return strings.HasSuffix(norm, "/") || strings.Count(norm, "/") <= 2
}

// dedupeAndOrder collapses candidates by normalized URL (keep-first across
// sources) and returns them in fetch priority order.
func dedupeAndOrder(batches []sourceBatch) []crawl.Candidate {
	seen := make(map[string]struct{})
	unique := make([]crawl.Candidate, 0)
	for _, batch := range batches {
		for _, c := range batch.candidates {
			if c.URL == "" {
				continue
			}
			norm := urlutil.Normalize(c.URL)
			if skippable(c.URL, norm) {
				continue
			}
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}
			unique = append(unique, c)
		}
	}

	ranked := make(map[crawl.Source]int, len(fetchOrder))
	for i, source := range fetchOrder {
		ranked[source] = i
	}
	ordered := make([]crawl.Candidate, 0, len(unique))
	for _, source := range fetchOrder {
		for _, c := range unique {
			if c.Source == source {
				ordered = append(ordered, c)
			}
		}
	}
	for _, c := range unique {
		if _, known := ranked[c.Source]; !known {
			ordered = append(ordered, c)
		}
	}
	return ordered
}

// Run executes one full pass and returns its stats. Per-candidate failures
// are counted, never fatal; only infrastructure errors (index flush) are
// returned.
func (p *Pipeline) Run(ctx context.Context) (*crawl.RunStats, error) {
	p.logger.Info("starting pipeline run", zap.String("run_id", p.cfg.RunID))
	stats := crawl.NewRunStats()
	totalStart := time.Now()

	discoveryStart := time.Now()
	batches := p.discover(ctx)
	stats.Timings["discovery"] = time.Since(discoveryStart)
	for _, batch := range batches {
		stats.Discovered[batch.source] = len(batch.candidates)
	}

	candidates := dedupeAndOrder(batches)
	p.logger.Info("unique candidates", zap.Int("count", len(candidates)))

	tasks := make([]crawl.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if p.opts.MaxFetch > 0 && stats.Attempted >= p.opts.MaxFetch {
			break
		}
		stats.Attempted++
		if p.index.ContainsURL(c.URL) {
			stats.Duplicates++
			stats.IndexDuplicates++
			metrics.ObserveDocument(string(c.Source), "duplicate")
			continue
		}
		tasks = append(tasks, c)
	}

	concurrency := p.cfg.Limits.FetchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	var fetchElapsed, extractElapsed, storeElapsed time.Duration

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, candidate := range tasks {
		candidate := candidate
		g.Go(func() error {
			fetchStart := time.Now()
			result, err := p.fetcher.Fetch(gctx, candidate)
			fetchDur := time.Since(fetchStart)

			if err != nil || result.HTML == "" {
				mu.Lock()
				fetchElapsed += fetchDur
				stats.FailedFetch++
				mu.Unlock()
				if err != nil {
					p.logger.Debug("fetch failed", zap.String("url", candidate.URL), zap.Error(err))
				}
				return nil
			}

			extractStart := time.Now()
			doc, rejection := p.extractor.BuildDocument(gctx, candidate, result, p.cfg.RunID)
			extractDur := time.Since(extractStart)

			mu.Lock()
			defer mu.Unlock()
			fetchElapsed += fetchDur
			extractElapsed += extractDur
			stats.Fetched++

			if doc == nil {
				if rejection != nil && rejection.Status == "quality-reject" {
					stats.QualityRejected++
					metrics.ObserveDocument(string(candidate.Source), "rejected")
				} else {
					stats.ExtractionFailed++
					metrics.ObserveDocument(string(candidate.Source), "extract_failed")
				}
				return nil
			}

			if doc.Extra == nil {
				doc.Extra = map[string]any{}
			}
			doc.Extra["fetch"] = map[string]any{
				"encoding":     result.Encoding,
				"status_code":  result.StatusCode,
				"fetched_from": result.FetchedFrom,
			}

			if p.index.ContainsID(doc.ID) || p.index.ContainsURL(doc.URL) {
				stats.Duplicates++
				stats.IndexDuplicates++
				metrics.ObserveDocument(string(candidate.Source), "duplicate")
				return nil
			}

			storeStart := time.Now()
			if err := p.writer.Append(*doc); err != nil {
				p.logger.Error("append failed", zap.String("url", doc.URL), zap.Error(err))
				return nil
			}
			p.index.Add(doc.ID, doc.URL)
			storeElapsed += time.Since(storeStart)
			stats.Stored++
			metrics.ObserveDocument(string(candidate.Source), "stored")
			if p.opts.Observer != nil {
				p.opts.Observer(*doc, candidate)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Timings["fetch"] = fetchElapsed
	stats.Timings["extract"] = extractElapsed
	stats.Timings["store"] = storeElapsed
	stats.Timings["total"] = time.Since(totalStart)

	if err := p.index.Flush(); err != nil {
		return stats, err
	}
	p.logger.Info("pipeline run finished",
		zap.String("run_id", p.cfg.RunID),
		zap.Int("attempted", stats.Attempted),
		zap.Int("fetched", stats.Fetched),
		zap.Int("stored", stats.Stored),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("failed_fetch", stats.FailedFetch),
		zap.Int("quality_rejected", stats.QualityRejected),
		zap.Int("extraction_failed", stats.ExtractionFailed),
		zap.Duration("elapsed", stats.Timings["total"]))
	return stats, nil
}
