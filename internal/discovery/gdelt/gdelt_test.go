package gdelt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/config"
	"github.com/nps-senti/crawler/internal/crawl"
)

func newTestDiscoverer(windowStart, windowEnd time.Time, cfg config.GdeltConfig) *Discoverer {
	return New(&http.Client{Timeout: 5 * time.Second},
		[]string{"국민연금"}, []string{"ko"},
		config.TimeWindow{StartDate: windowStart, EndDate: windowEnd},
		cfg, zap.NewNop())
}

func TestWindowsSplitAndOverlap(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	d := newTestDiscoverer(start, end, config.GdeltConfig{ChunkDays: 30, OverlapDays: 2, MaxAttempts: 1})

	windows := d.windows()
	require.Len(t, windows, 3)
	assert.Equal(t, start, windows[0].start)
	assert.Equal(t, start.AddDate(0, 0, 30), windows[0].end)
	// Next window starts overlap_days before the previous end.
	assert.Equal(t, windows[0].end.AddDate(0, 0, -2), windows[1].start)
	assert.Equal(t, end, windows[2].end)
}

func TestWindowsClampToNow(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d := newTestDiscoverer(start, time.Time{}, config.GdeltConfig{ChunkDays: 30})
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	windows := d.windows()
	require.Len(t, windows, 1)
	assert.Equal(t, now, windows[0].end)
}

func TestWindowsMaxDaysBack(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	d := newTestDiscoverer(start, end, config.GdeltConfig{ChunkDays: 30, MaxDaysBack: 10})

	windows := d.windows()
	require.Len(t, windows, 1)
	assert.Equal(t, end.AddDate(0, 0, -10), windows[0].start)
}

func TestBuildParams(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	d := New(http.DefaultClient, []string{"국민연금 개혁"}, []string{"ko", "en"},
		config.TimeWindow{StartDate: start, EndDate: end},
		config.GdeltConfig{ChunkDays: 30, MaxRecordsPerKeyword: 100}, zap.NewNop())

	params := d.buildParams("국민연금 개혁", window{start: start, end: end})
	assert.Equal(t, `"국민연금 개혁" (sourcelang:KOREAN OR sourcelang:ENGLISH)`, params.Get("query"),
		"multi-word keywords are quoted")
	assert.Equal(t, "20250101000000", params.Get("startdatetime"))
	assert.Equal(t, "20250130235959", params.Get("enddatetime"), "end is exclusive")
	assert.Equal(t, "100", params.Get("maxrecords"))
	assert.Equal(t, "DateDesc", params.Get("sort"))
}

func TestDiscoverParsesAndDeduplicates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"articles":[
			{"url":"https://news.example.com/a","title":"국민연금 기사","seendate":"20250115T090000Z","domain":"news.example.com","language":"Korean"},
			{"url":"https://news.example.com/a","title":"중복 기사","seendate":"20250115T090000Z"},
			{"url":"","title":"no url"},
			{"url":"https://news.example.com/b","title":"두번째 기사","seendate":"20250116"}
		]}`))
	}))
	defer server.Close()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	d := newTestDiscoverer(start, end, config.GdeltConfig{ChunkDays: 30, MaxAttempts: 1, MaxConcurrency: 2})
	d.apiURL = server.URL

	candidates, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	byURL := make(map[string]crawl.Candidate)
	for _, c := range candidates {
		byURL[c.URL] = c
	}
	a := byURL["https://news.example.com/a"]
	assert.Equal(t, crawl.SourceGDELT, a.Source)
	assert.Equal(t, "국민연금 기사", a.Title)
	require.NotNil(t, a.Timestamp)
	assert.Equal(t, time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC), *a.Timestamp)
	assert.Equal(t, "gdelt", a.DiscoveredVia["type"])
	assert.Equal(t, "국민연금", a.DiscoveredVia["keyword"])

	b := byURL["https://news.example.com/b"]
	require.NotNil(t, b.Timestamp)
	assert.Equal(t, time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC), *b.Timestamp)
}

func TestDiscoverSkipsShortKeywords(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"articles":[]}`))
	}))
	defer server.Close()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	d := New(&http.Client{}, []string{"nps", "ab"}, []string{"ko"},
		config.TimeWindow{StartDate: start, EndDate: end},
		config.GdeltConfig{ChunkDays: 30, MaxAttempts: 1}, zap.NewNop())
	d.apiURL = server.URL

	_, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "keywords shorter than 3 runes are skipped")
}

func TestDiscoverRetriesOn429(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"articles":[{"url":"https://news.example.com/a","title":"기사"}]}`))
	}))
	defer server.Close()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	d := newTestDiscoverer(start, end, config.GdeltConfig{ChunkDays: 30, MaxAttempts: 3, RateLimitBackoffSec: 0.01})
	d.apiURL = server.URL

	candidates, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestDiscoverSurvivesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	d := newTestDiscoverer(start, end, config.GdeltConfig{ChunkDays: 30, MaxAttempts: 2, RateLimitBackoffSec: 0.001})
	d.apiURL = server.URL

	candidates, err := d.Discover(context.Background())
	assert.NoError(t, err, "failed queries are skipped, not fatal")
	assert.Empty(t, candidates)
}
