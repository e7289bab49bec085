package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/crawl"
)

func TestFileFor(t *testing.T) {
	assert.Equal(t, "gdelt.jsonl", FileFor(crawl.SourceGDELT))
	assert.Equal(t, "youtube.jsonl", FileFor(crawl.SourceYouTube))
	assert.Equal(t, "forum_dcinside.jsonl", FileFor(crawl.SourceDCInside))
	assert.Equal(t, "forum_theqoo.jsonl", FileFor(crawl.SourceTheqoo))
}

func testDoc(id, url string, source crawl.Source) crawl.Document {
	return crawl.Document{
		ID:      id,
		Source:  source,
		URL:     url,
		Text:    "본문",
		Lang:    "ko",
		Authors: []string{},
		Quality: crawl.Quality{Score: 0.7, Reasons: []string{}},
		Dup:     map[string]any{},
	}
}

func TestWriterAppendsPerSource(t *testing.T) {
	root := t.TempDir()
	w, err := NewWriter(root)
	require.NoError(t, err)

	require.NoError(t, w.Append(testDoc("a", "https://news.example.com/1", crawl.SourceGDELT)))
	require.NoError(t, w.Append(testDoc("b", "https://news.example.com/2", crawl.SourceGDELT)))
	require.NoError(t, w.Append(testDoc("c", "https://gall.dcinside.com/1", crawl.SourceDCInside)))

	data, err := os.ReadFile(filepath.Join(root, "gdelt.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var record crawl.Document
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "a", record.ID)

	_, err = os.Stat(filepath.Join(root, "forum_dcinside.jsonl"))
	assert.NoError(t, err)
}

func TestIndexRoundTrip(t *testing.T) {
	dir := t.TempDir()

	idx, err := OpenIndex(dir, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, idx.ContainsID("doc-1"))

	idx.Add("doc-1", "https://News.example.com/article/1/")
	assert.True(t, idx.ContainsID("doc-1"))
	assert.True(t, idx.ContainsURL("https://news.example.com/article/1"),
		"lookups go through URL normalization")
	require.NoError(t, idx.Flush())

	reloaded, err := OpenIndex(dir, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, reloaded.ContainsID("doc-1"))
	assert.True(t, reloaded.ContainsURL("https://news.example.com/article/1"))
	assert.Equal(t, 1, reloaded.Len())
}

func TestIndexFlushIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenIndex(dir, zap.NewNop())
	require.NoError(t, err)

	idx.Add("doc-1", "https://a.example/1")
	require.NoError(t, idx.Flush())
	info1, err := os.Stat(filepath.Join(dir, indexFileName))
	require.NoError(t, err)

	// No changes, flush must not rewrite.
	require.NoError(t, idx.Flush())
	info2, err := os.Stat(filepath.Join(dir, indexFileName))
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestIndexBootstrapFromJSONL(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.Append(testDoc("seed-id", "https://news.example.com/seed", crawl.SourceGDELT)))

	idx, err := OpenIndex(dir, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, idx.ContainsID("seed-id"))
	assert.True(t, idx.ContainsURL("https://news.example.com/seed"))
}

func TestIndexCorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFileName), []byte("{broken"), 0o644))

	idx, err := OpenIndex(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, idx.Len())
}
