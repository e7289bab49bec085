package youtube

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/config"
	"github.com/nps-senti/crawler/internal/crawl"
)

func apiStub(t *testing.T, searchCalls, videoCalls *int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		*searchCalls++
		assert.Equal(t, "video", r.URL.Query().Get("type"))
		assert.Equal(t, "date", r.URL.Query().Get("order"))
		assert.NotEmpty(t, r.URL.Query().Get("publishedAfter"))
		_, _ = w.Write([]byte(`{"items":[
			{"id":{"videoId":"vid-1"},"snippet":{"title":"검색 제목","publishedAt":"2025-02-01T00:00:00Z"}},
			{"id":{"videoId":"vid-2"},"snippet":{"title":"두번째","publishedAt":"2025-02-02T00:00:00Z"}}
		]}`))
	})
	mux.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		*videoCalls++
		assert.Equal(t, "vid-1,vid-2", r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(`{"items":[
			{"id":"vid-1","snippet":{"title":"국민연금 해설","channelId":"UC1","publishedAt":"2025-02-01T10:00:00Z"},
			 "statistics":{"viewCount":"1000","likeCount":"10"}}
		]}`))
	})
	return httptest.NewServer(mux)
}

func newTestDiscoverer(server *httptest.Server, keywords []string, budget int) *Discoverer {
	d := New("test-key", keywords,
		config.TimeWindow{
			StartDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		config.YouTubeConfig{MaxResultsPerKeyword: 25}, budget,
		server.Client(), zap.NewNop())
	d.searchURL = server.URL + "/search"
	d.videosURL = server.URL + "/videos"
	return d
}

func TestDiscoverBuildsCandidates(t *testing.T) {
	var searchCalls, videoCalls int
	server := apiStub(t, &searchCalls, &videoCalls)
	defer server.Close()

	d := newTestDiscoverer(server, []string{"국민연금"}, 0)
	candidates, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	first := candidates[0]
	assert.Equal(t, "https://www.youtube.com/watch?v=vid-1", first.URL)
	assert.Equal(t, crawl.SourceYouTube, first.Source)
	assert.Equal(t, "국민연금 해설", first.Title, "details snippet wins over search snippet")
	require.NotNil(t, first.Timestamp)
	assert.Equal(t, time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC), *first.Timestamp)
	detail, ok := first.Extra["youtube"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "vid-1", detail["id"])

	// vid-2 has no details entry; the search snippet carries it.
	second := candidates[1]
	assert.Equal(t, "두번째", second.Title)

	assert.Equal(t, KeywordCost, d.UnitsUsed())
	assert.Equal(t, 1, searchCalls)
	assert.Equal(t, 1, videoCalls)
}

func TestDiscoverRefusesKeywordsOverBudget(t *testing.T) {
	var searchCalls, videoCalls int
	server := apiStub(t, &searchCalls, &videoCalls)
	defer server.Close()

	d := newTestDiscoverer(server, []string{"국민연금", "연금개혁", "기초연금"}, 2*KeywordCost)
	candidates, err := d.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, searchCalls, "third keyword would exceed the budget")
	assert.Len(t, candidates, 4)
	assert.LessOrEqual(t, d.UnitsUsed(), 2*KeywordCost)
}

func TestDiscoverWithoutAPIKey(t *testing.T) {
	d := New("", []string{"국민연금"}, config.TimeWindow{StartDate: time.Now()},
		config.YouTubeConfig{}, 0, nil, zap.NewNop())
	candidates, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Zero(t, d.UnitsUsed())
}

func TestDiscoverSearchFailureSkipsKeyword(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	d := newTestDiscoverer(server, []string{"국민연금"}, 0)
	d.searchURL = server.URL
	candidates, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
