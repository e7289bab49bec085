// Package youtube discovers video candidates via the YouTube Data API.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/config"
	"github.com/nps-senti/crawler/internal/crawl"
	"github.com/nps-senti/crawler/internal/metrics"
)

const (
	defaultSearchURL = "https://www.googleapis.com/youtube/v3/search"
	defaultVideosURL = "https://www.googleapis.com/youtube/v3/videos"

	searchCost = 100
	videosCost = 1
	// KeywordCost is the estimated quota for one keyword pass: one
	// search.list plus one videos.list.
	KeywordCost = searchCost + videosCost
)

// Discoverer runs one search.list + videos.list pair per keyword. When a
// quota budget is set, keywords that would push the estimated spend past it
// are refused; the caller reschedules them on a later day.
type Discoverer struct {
	apiKey     string
	keywords   []string
	window     config.TimeWindow
	maxResults int
	budget     int
	used       int
	client     *http.Client
	logger     *zap.Logger

	// test hooks
	searchURL string
	videosURL string
}

// New builds a Discoverer. budget <= 0 means unlimited.
func New(apiKey string, keywords []string, window config.TimeWindow, cfg config.YouTubeConfig, budget int, client *http.Client, logger *zap.Logger) *Discoverer {
	maxResults := cfg.MaxResultsPerKeyword
	if maxResults <= 0 {
		maxResults = 25
	}
	kept := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if strings.TrimSpace(kw) != "" {
			kept = append(kept, kw)
		}
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Discoverer{
		apiKey:     apiKey,
		keywords:   kept,
		window:     window,
		maxResults: maxResults,
		budget:     budget,
		client:     client,
		logger:     logger,
		searchURL:  defaultSearchURL,
		videosURL:  defaultVideosURL,
	}
}

// UnitsUsed reports the estimated quota spent by this pass.
func (d *Discoverer) UnitsUsed() int { return d.used }

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet map[string]any `json:"snippet"`
	} `json:"items"`
}

type videosResponse struct {
	Items []map[string]any `json:"items"`
}

// Discover enumerates video candidates for every keyword within budget.
func (d *Discoverer) Discover(ctx context.Context) ([]crawl.Candidate, error) {
	if d.apiKey == "" {
		d.logger.Info("skipping youtube discovery: API key missing")
		return nil, nil
	}

	publishedAfter := d.window.StartDate.UTC().Format(time.RFC3339)
	publishedBefore := ""
	if !d.window.EndDate.IsZero() {
		publishedBefore = d.window.EndDate.UTC().Format(time.RFC3339)
	}

	var candidates []crawl.Candidate
	for _, keyword := range d.keywords {
		if d.budget > 0 && d.used+KeywordCost > d.budget {
			d.logger.Info("youtube quota budget exhausted; deferring remaining keywords",
				zap.String("keyword", keyword),
				zap.Int("used", d.used),
				zap.Int("budget", d.budget))
			break
		}

		search, err := d.search(ctx, keyword, publishedAfter, publishedBefore)
		if err != nil {
			d.logger.Warn("youtube search failed", zap.String("keyword", keyword), zap.Error(err))
			continue
		}
		var videoIDs []string
		for _, item := range search.Items {
			if item.ID.VideoID != "" {
				videoIDs = append(videoIDs, item.ID.VideoID)
			}
		}
		if len(videoIDs) == 0 {
			continue
		}

		details, err := d.videoDetails(ctx, videoIDs)
		if err != nil {
			d.logger.Warn("youtube video details failed", zap.String("keyword", keyword), zap.Error(err))
			continue
		}

		for _, item := range search.Items {
			vid := item.ID.VideoID
			if vid == "" {
				continue
			}
			detail := details[vid]
			snippet, _ := detail["snippet"].(map[string]any)
			if snippet == nil {
				snippet = item.Snippet
			}
			var timestamp *time.Time
			if published, _ := snippet["publishedAt"].(string); published != "" {
				if ts, err := time.Parse(time.RFC3339, published); err == nil {
					utc := ts.UTC()
					timestamp = &utc
				}
			}
			title, _ := snippet["title"].(string)
			extra := map[string]any{}
			if detail != nil {
				extra["youtube"] = detail
			} else {
				extra["youtube"] = map[string]any{"id": vid, "snippet": item.Snippet}
			}
			candidates = append(candidates, crawl.Candidate{
				URL:    "https://www.youtube.com/watch?v=" + vid,
				Source: crawl.SourceYouTube,
				Title:  title,
				DiscoveredVia: map[string]any{
					"type":    "youtube",
					"keyword": keyword,
				},
				Timestamp: timestamp,
				Extra:     extra,
			})
		}
	}
	d.logger.Info("youtube discovery complete",
		zap.Int("candidates", len(candidates)), zap.Int("quota_units", d.used))
	return candidates, nil
}

func (d *Discoverer) search(ctx context.Context, keyword, publishedAfter, publishedBefore string) (*searchResponse, error) {
	params := url.Values{
		"key":            {d.apiKey},
		"part":           {"snippet"},
		"type":           {"video"},
		"order":          {"date"},
		"q":              {keyword},
		"maxResults":     {strconv.Itoa(d.maxResults)},
		"publishedAfter": {publishedAfter},
	}
	if publishedBefore != "" {
		params.Set("publishedBefore", publishedBefore)
	}
	d.spend(searchCost)

	var out searchResponse
	if err := d.getJSON(ctx, d.searchURL, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (d *Discoverer) videoDetails(ctx context.Context, videoIDs []string) (map[string]map[string]any, error) {
	params := url.Values{
		"key":  {d.apiKey},
		"part": {"snippet,contentDetails,statistics"},
		"id":   {strings.Join(videoIDs, ",")},
	}
	d.spend(videosCost)

	var out videosResponse
	if err := d.getJSON(ctx, d.videosURL, params, &out); err != nil {
		return nil, err
	}
	details := make(map[string]map[string]any, len(out.Items))
	for _, item := range out.Items {
		if id, _ := item["id"].(string); id != "" {
			details[id] = item
		}
	}
	return details, nil
}

func (d *Discoverer) spend(units int) {
	d.used += units
	metrics.AddQuotaUnits(units)
}

func (d *Discoverer) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
