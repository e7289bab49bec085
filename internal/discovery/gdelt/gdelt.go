// Package gdelt discovers news article candidates from the GDELT DOC API.
package gdelt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nps-senti/crawler/internal/config"
	"github.com/nps-senti/crawler/internal/crawl"
)

const defaultAPIURL = "https://api.gdeltproject.org/api/v2/doc/doc"

// Discoverer queries the news index one (keyword, window) pair at a time.
// Failed pairs are logged and skipped; a pass never aborts on one bad query.
type Discoverer struct {
	client    *http.Client
	keywords  []string
	languages []string
	window    config.TimeWindow
	cfg       config.GdeltConfig
	logger    *zap.Logger

	limiter *rate.Limiter

	// test hooks
	apiURL string
	now    func() time.Time
}

// New builds a Discoverer. Zero or negative config values fall back to the
// same floors the config defaults use.
func New(client *http.Client, keywords, languages []string, window config.TimeWindow, cfg config.GdeltConfig, logger *zap.Logger) *Discoverer {
	if cfg.ChunkDays <= 0 {
		cfg.ChunkDays = 30
	}
	if cfg.MaxRecordsPerKeyword <= 0 {
		cfg.MaxRecordsPerKeyword = 75
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RateLimitBackoffSec < 0 {
		cfg.RateLimitBackoffSec = 0
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.PauseBetweenRequests > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(cfg.PauseBetweenRequests*float64(time.Second))), 1)
	}
	lowered := make([]string, 0, len(languages))
	for _, lang := range languages {
		lowered = append(lowered, strings.ToLower(lang))
	}
	return &Discoverer{
		client:    client,
		keywords:  keywords,
		languages: lowered,
		window:    window,
		cfg:       cfg,
		logger:    logger,
		limiter:   limiter,
		apiURL:    defaultAPIURL,
		now:       time.Now,
	}
}

type window struct {
	start, end time.Time
}

// windows splits the configured range into chunk-sized pieces. Consecutive
// windows overlap by overlap_days so articles indexed near a boundary are
// not lost between runs.
func (d *Discoverer) windows() []window {
	end := d.window.EndDate
	if end.IsZero() {
		end = d.now().UTC()
	}
	start := d.window.StartDate
	if d.cfg.MaxDaysBack > 0 {
		if clamp := end.AddDate(0, 0, -d.cfg.MaxDaysBack); clamp.After(start) {
			start = clamp
		}
	}
	chunk := time.Duration(d.cfg.ChunkDays) * 24 * time.Hour
	overlap := time.Duration(0)
	if d.cfg.OverlapDays > 0 {
		overlap = time.Duration(d.cfg.OverlapDays) * 24 * time.Hour
	}

	var out []window
	current := start
	for current.Before(end) {
		windowEnd := current.Add(chunk)
		if windowEnd.After(end) {
			windowEnd = end
		}
		out = append(out, window{start: current, end: windowEnd})
		next := windowEnd.Add(-overlap)
		if !next.After(current) {
			next = windowEnd
		}
		current = next
	}
	return out
}

func (d *Discoverer) buildParams(keyword string, w window) url.Values {
	queryTerm := keyword
	if strings.Contains(strings.TrimSpace(keyword), " ") {
		queryTerm = `"` + keyword + `"`
	}

	query := queryTerm
	if clause := d.languageClause(); clause != "" {
		query = queryTerm + " " + clause
	}

	endInclusive := w.end.Add(-time.Second)
	if endInclusive.Before(w.start) {
		endInclusive = w.start
	}
	return url.Values{
		"query":         {query},
		"mode":          {"ArtList"},
		"format":        {"json"},
		"maxrecords":    {strconv.Itoa(d.cfg.MaxRecordsPerKeyword)},
		"sort":          {"DateDesc"},
		"startdatetime": {w.start.UTC().Format("20060102150405")},
		"enddatetime":   {endInclusive.UTC().Format("20060102150405")},
	}
}

func (d *Discoverer) languageClause() string {
	var clauses []string
	for _, lang := range d.languages {
		switch lang {
		case "ko":
			clauses = append(clauses, "sourcelang:KOREAN")
		case "en":
			clauses = append(clauses, "sourcelang:ENGLISH")
		default:
			clauses = append(clauses, "lang:"+strings.ToUpper(lang))
		}
	}
	switch len(clauses) {
	case 0:
		return ""
	case 1:
		return clauses[0]
	default:
		return "(" + strings.Join(clauses, " OR ") + ")"
	}
}

type article struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	SeenDate      string `json:"seendate"`
	Domain        string `json:"domain"`
	Language      string `json:"language"`
	SourceCountry string `json:"sourcecountry"`
}

type apiResponse struct {
	Articles []article `json:"articles"`
}

// Discover runs every (keyword, window) query with bounded concurrency and
// returns candidates deduplicated by raw URL.
func (d *Discoverer) Discover(ctx context.Context) ([]crawl.Candidate, error) {
	windows := d.windows()

	type task struct {
		keyword string
		w       window
	}
	var tasks []task
	for _, keyword := range d.keywords {
		if utf8.RuneCountInString(strings.TrimSpace(keyword)) < 3 {
			continue
		}
		for _, w := range windows {
			tasks = append(tasks, task{keyword: keyword, w: w})
		}
	}

	var (
		mu      sync.Mutex
		seen    = make(map[string]struct{})
		results []crawl.Candidate
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxConcurrency)
	for _, t := range tasks {
		g.Go(func() error {
			articles, err := d.query(ctx, t.keyword, t.w)
			if err != nil {
				d.logger.Warn("gdelt query failed; skipping",
					zap.String("keyword", t.keyword),
					zap.Time("window_start", t.w.start),
					zap.Time("window_end", t.w.end),
					zap.Error(err))
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, a := range articles {
				if a.URL == "" {
					continue
				}
				if _, dup := seen[a.URL]; dup {
					continue
				}
				seen[a.URL] = struct{}{}
				results = append(results, d.toCandidate(a, t.keyword, t.w))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	d.logger.Info("gdelt discovery complete",
		zap.Int("candidates", len(results)),
		zap.Int("windows", len(windows)))
	return results, nil
}

func (d *Discoverer) query(ctx context.Context, keyword string, w window) ([]article, error) {
	params := d.buildParams(keyword, w)
	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.apiURL+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			if err := sleepCtx(ctx, d.backoff(attempt+1)); err != nil {
				return nil, err
			}
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp)
			_ = resp.Body.Close()
			if wait <= 0 {
				wait = d.backoffExp(attempt)
			}
			d.logger.Info("gdelt rate limited",
				zap.Duration("wait", wait), zap.Int("attempt", attempt+1))
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			lastErr = fmt.Errorf("rate limited")
			continue
		}
		if resp.StatusCode >= 400 {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			if err := sleepCtx(ctx, d.backoff(attempt+1)); err != nil {
				return nil, err
			}
			continue
		}
		var payload apiResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&payload)
		_ = resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("decode response: %w", decodeErr)
		}
		return payload.Articles, nil
	}
	return nil, fmt.Errorf("attempts exhausted: %w", lastErr)
}

func (d *Discoverer) toCandidate(a article, keyword string, w window) crawl.Candidate {
	var timestamp *time.Time
	if a.SeenDate != "" {
		layout := "20060102"
		if strings.Contains(a.SeenDate, "T") {
			layout = "20060102T150405Z"
		}
		if ts, err := time.Parse(layout, a.SeenDate); err == nil {
			utc := ts.UTC()
			timestamp = &utc
		}
	}
	return crawl.Candidate{
		URL:    a.URL,
		Source: crawl.SourceGDELT,
		Title:  a.Title,
		DiscoveredVia: map[string]any{
			"type":     "gdelt",
			"keyword":  keyword,
			"seendate": a.SeenDate,
			"window": map[string]any{
				"start": w.start.UTC().Format(time.RFC3339),
				"end":   w.end.UTC().Format(time.RFC3339),
			},
		},
		Timestamp: timestamp,
		Extra: map[string]any{
			"gdelt": map[string]any{
				"domain":        a.Domain,
				"language":      a.Language,
				"sourcecountry": a.SourceCountry,
			},
		},
	}
}

func (d *Discoverer) backoff(attempt int) time.Duration {
	return time.Duration(d.cfg.RateLimitBackoffSec * float64(attempt) * float64(time.Second))
}

func (d *Discoverer) backoffExp(attempt int) time.Duration {
	return time.Duration(d.cfg.RateLimitBackoffSec * float64(int(1)<<attempt) * float64(time.Second))
}

func retryAfter(resp *http.Response) time.Duration {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
