package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/config"
	"github.com/nps-senti/crawler/internal/crawl"
)

const threadHTML = `<!DOCTYPE html>
<html lang="ko">
<head>
<meta charset="utf-8">
<meta property="og:title" content="국민연금 개혁안 토론 %d">
<title>국민연금 개혁안 토론 %d</title>
</head>
<body>
<article>
<h1>국민연금 개혁안 토론 %d</h1>
<p>국민연금 보험료율 인상을 둘러싼 논쟁이 계속되고 있다. 가입자 단체는 소득대체율
상향 없는 인상에 반대한다는 입장을 분명히 했고, 정부는 기금 고갈 시점을 늦추려면
단계적 조정이 불가피하다고 설명했다.</p>
<p>이번 %d번째 토론에서는 수급 개시 연령과 크레딧 확대 방안도 함께 다뤄졌다.
국민연금공단은 개편 방향이 확정되는 대로 가입자 안내를 시작할 예정이다.</p>
</article>
</body>
</html>`

func forumServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	viewHits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/board/lists/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<table>
<tr><td class="gall_tit"><a href="/board/view/?no=1">국민연금 토론 1</a></td>
    <td class="gall_date" title="2025-02-10 14:22:00">02.10</td></tr>
<tr><td class="gall_tit"><a href="/board/view/?no=2">국민연금 토론 2</a></td>
    <td class="gall_date" title="2025-02-11 09:05:00">02.11</td></tr>
</table>`))
	})
	mux.HandleFunc("/board/view/", func(w http.ResponseWriter, r *http.Request) {
		viewHits++
		no := r.URL.Query().Get("no")
		n := 1
		if no == "2" {
			n = 2
		}
		fmt.Fprintf(w, threadHTML, n, n, n, n)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &viewHits
}

func testConfig(root, boardURL string) config.Config {
	return config.Config{
		Keywords: []string{"국민연금"},
		Lang:     []string{"ko"},
		Output:   config.OutputConfig{Root: root},
		RunID:    "run-test",
		Limits: config.Limits{
			MaxCandidatesPerSource: 100,
			RequestTimeoutSec:      5,
			FetchConcurrency:       2,
		},
		Quality: config.Quality{MinKeywordHits: 1, MinScore: 0.5, MinTextChars: 50},
		Politeness: config.Politeness{
			UserAgent:        "test-agent",
			PerDomainMax:     2,
			MaxRetries:       1,
			BackoffInitialMs: 1,
			BackoffMaxMs:     5,
		},
		Forums: map[string]config.ForumSite{
			crawl.SourceDCInside: {
				Enabled:       true,
				Boards:        []string{boardURL},
				MaxPages:      1,
				PerBoardLimit: 10,
				ObeyRobots:    true,
			},
		},
	}
}

func TestRunStoresForumDocuments(t *testing.T) {
	srv, _ := forumServer(t)
	root := t.TempDir()
	cfg := testConfig(root, srv.URL+"/board/lists/?id=pension")

	var observed []crawl.Document
	p, err := New(cfg, Options{
		IncludeSources: map[string]bool{SourceKeyForums: true},
		Observer: func(doc crawl.Document, _ crawl.Candidate) {
			observed = append(observed, doc)
		},
	}, zap.NewNop())
	require.NoError(t, err)

	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Discovered[crawl.SourceDCInside])
	assert.Equal(t, 2, stats.Attempted)
	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 2, stats.Stored)
	assert.Zero(t, stats.FailedFetch)
	require.Len(t, observed, 2)
	assert.Equal(t, "run-test", observed[0].Crawl.RunID)
	assert.NotNil(t, observed[0].Extra["fetch"])

	data, err := os.ReadFile(filepath.Join(root, "forum_dcinside.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)

	_, err = os.Stat(filepath.Join(root, "_index.json"))
	assert.NoError(t, err)
}

func TestRunSecondPassSkipsViaIndex(t *testing.T) {
	srv, viewHits := forumServer(t)
	root := t.TempDir()
	cfg := testConfig(root, srv.URL+"/board/lists/?id=pension")
	opts := Options{IncludeSources: map[string]bool{SourceKeyForums: true}}

	p1, err := New(cfg, opts, zap.NewNop())
	require.NoError(t, err)
	first, err := p1.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.Stored)
	hitsAfterFirst := *viewHits

	p2, err := New(cfg, opts, zap.NewNop())
	require.NoError(t, err)
	second, err := p2.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, second.Stored)
	assert.Equal(t, 2, second.IndexDuplicates)
	assert.Equal(t, hitsAfterFirst, *viewHits, "known URLs must not be re-fetched")
}

func TestRunHonorsMaxFetch(t *testing.T) {
	srv, _ := forumServer(t)
	root := t.TempDir()
	cfg := testConfig(root, srv.URL+"/board/lists/?id=pension")

	p, err := New(cfg, Options{
		IncludeSources: map[string]bool{SourceKeyForums: true},
		MaxFetch:       1,
	}, zap.NewNop())
	require.NoError(t, err)

	stats, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Attempted)
	assert.Equal(t, 1, stats.Stored)
}

func TestDedupeAndOrder(t *testing.T) {
	batches := []sourceBatch{
		{crawl.SourceGDELT, []crawl.Candidate{
			{URL: "https://news.example.com/a?id=1", Source: crawl.SourceGDELT},
			{URL: "https://news.example.com/a?id=1&utm_source=x", Source: crawl.SourceGDELT},
			{URL: "https://news.example.com/robots.txt", Source: crawl.SourceGDELT},
			{URL: "https://news.example.com/", Source: crawl.SourceGDELT},
		}},
		{crawl.SourceYouTube, []crawl.Candidate{
			{URL: "https://www.youtube.com/watch?v=abc", Source: crawl.SourceYouTube},
		}},
		{crawl.SourceTheqoo, []crawl.Candidate{
			{URL: "https://theqoo.net/square/123", Source: crawl.SourceTheqoo},
		}},
	}

	ordered := dedupeAndOrder(batches)
	require.Len(t, ordered, 3)
	assert.Equal(t, crawl.SourceTheqoo, ordered[0].Source)
	assert.Equal(t, crawl.SourceGDELT, ordered[1].Source)
	assert.Equal(t, crawl.SourceYouTube, ordered[2].Source, "video metadata fetches last")
}

func TestSkippable(t *testing.T) {
	assert.True(t, skippable("https://example.com/robots.txt", "https://example.com/robots.txt"))
	assert.True(t, skippable("https://example.com/", "https://example.com/"))
	assert.True(t, skippable("https://example.com", "https://example.com/"))
	assert.False(t, skippable("https://example.com/news/1", "https://example.com/news/1"))
}
