// Package crawl defines core types shared across the pipeline subsystems.
package crawl

import (
	"time"
)

// Source identifies where a candidate or document came from.
type Source = string

// Known source keys. Forum sites use their site key directly so new boards
// can be registered from configuration without code changes.
const (
	SourceGDELT      Source = "gdelt"
	SourceYouTube    Source = "youtube"
	SourceDCInside   Source = "dcinside"
	SourceBobaedream Source = "bobaedream"
	SourceFMKorea    Source = "fmkorea"
	SourceMLBPark    Source = "mlbpark"
	SourceTheqoo     Source = "theqoo"
	SourcePpomppu    Source = "ppomppu"
)

// Candidate is a discovered crawl target that has not been fetched yet.
type Candidate struct {
	URL           string
	Source        Source
	DiscoveredVia map[string]any
	SnapshotURL   string
	Title         string
	Timestamp     *time.Time
	Extra         map[string]any
}

// FetchResult carries the decoded payload of a single successful fetch.
type FetchResult struct {
	URL         string
	FetchedFrom string
	StatusCode  int
	HTML        string
	SnapshotURL string
	Encoding    string
	FetchedAt   time.Time
}

// Quality is the scoring outcome attached to every stored document.
type Quality struct {
	Score           float64  `json:"score"`
	Reasons         []string `json:"reasons"`
	KeywordCoverage float64  `json:"keyword_coverage"`
	Length          int      `json:"length"`
	KeywordHits     int      `json:"keyword_hits"`
}

// CrawlMeta records run provenance stamped onto each document.
type CrawlMeta struct {
	RunID       string `json:"run_id"`
	FetchedAt   string `json:"fetched_at"`
	FetchedFrom string `json:"fetched_from"`
}

// Caption is one caption track attached to a video document.
type Caption struct {
	Lang string `json:"lang"`
	Text string `json:"text"`
}

// VideoStats holds public counters reported by the video platform.
type VideoStats struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
}

// VideoMeta extends documents discovered on the video source.
type VideoMeta struct {
	VideoID      string     `json:"video_id"`
	ChannelID    string     `json:"channel_id"`
	ChannelTitle string     `json:"channel_title"`
	Captions     []Caption  `json:"captions"`
	Stats        VideoStats `json:"stats"`
}

// Document is one crawled unit in the unified record schema. It is written
// as a single JSON line to the source's output file.
type Document struct {
	ID            string         `json:"id"`
	Source        Source         `json:"source"`
	URL           string         `json:"url"`
	SnapshotURL   string         `json:"snapshot_url,omitempty"`
	Title         string         `json:"title,omitempty"`
	Text          string         `json:"text"`
	Lang          string         `json:"lang"`
	PublishedAt   *string        `json:"published_at"`
	Authors       []string       `json:"authors"`
	DiscoveredVia map[string]any `json:"discovered_via"`
	Quality       Quality        `json:"quality"`
	Dup           map[string]any `json:"dup"`
	Crawl         CrawlMeta      `json:"crawl"`
	Video         *VideoMeta     `json:"video,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// RunStats aggregates per-run counters. It is ephemeral: logged at the end
// of a run and otherwise only visible through crawl.run_id on documents.
type RunStats struct {
	Discovered       map[Source]int
	Attempted        int
	Fetched          int
	Stored           int
	Duplicates       int
	IndexDuplicates  int
	FailedFetch      int
	QualityRejected  int
	ExtractionFailed int
	Timings          map[string]time.Duration
}

// NewRunStats returns zeroed stats with allocated maps.
func NewRunStats() *RunStats {
	return &RunStats{
		Discovered: make(map[Source]int),
		Timings:    make(map[string]time.Duration),
	}
}
