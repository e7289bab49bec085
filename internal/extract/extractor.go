// Package extract turns fetched HTML into scored documents.
package extract

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"
	trafilatura "github.com/markusmobius/go-trafilatura"
	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/config"
	"github.com/nps-senti/crawler/internal/crawl"
	"github.com/nps-senti/crawler/internal/urlutil"
)

// Rejection explains why a fetched page produced no document. A quality
// rejection is an expected outcome, not an error.
type Rejection struct {
	Status  string
	Reason  string
	Quality *crawl.Quality
}

// Options are the environment-driven extraction knobs. They cover comment
// augmentation only; scoring thresholds live in the config tree.
type Options struct {
	YouTubeAPIKey        string
	CommentsPages        int
	IncludeReplies       bool
	CommentsOrder        string
	CommentsTextFormat   string
	ForumCommentsEnabled bool
	ForumCommentsMax     int
}

// OptionsFromEnv reads the augmentation knobs from the environment.
func OptionsFromEnv() Options {
	opts := Options{
		YouTubeAPIKey:        os.Getenv("YOUTUBE_API_KEY"),
		CommentsPages:        envInt("YOUTUBE_COMMENTS_PAGES", 5),
		IncludeReplies:       envBool("YOUTUBE_COMMENTS_INCLUDE_REPLIES", true),
		CommentsOrder:        strings.ToLower(os.Getenv("YOUTUBE_COMMENTS_ORDER")),
		CommentsTextFormat:   strings.TrimSpace(os.Getenv("YOUTUBE_COMMENTS_TEXT_FORMAT")),
		ForumCommentsEnabled: envBool("FORUMS_COMMENTS_ENABLED", true),
		ForumCommentsMax:     envInt("FORUMS_COMMENTS_MAX", 200),
	}
	if opts.CommentsPages < 0 {
		opts.CommentsPages = 0
	}
	if opts.ForumCommentsMax < 0 {
		opts.ForumCommentsMax = 0
	}
	if opts.CommentsOrder != "relevance" && opts.CommentsOrder != "time" {
		opts.CommentsOrder = "relevance"
	}
	if opts.CommentsTextFormat != "html" && opts.CommentsTextFormat != "plainText" {
		opts.CommentsTextFormat = "html"
	}
	return opts
}

func envBool(name string, fallback bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func envInt(name string, fallback int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

// Extractor builds documents from fetch results.
type Extractor struct {
	keywords     []string
	allowedLangs map[string]bool
	quality      config.Quality
	opts         Options
	client       *http.Client
	logger       *zap.Logger

	// overridable in tests
	commentsEndpoint string
}

// New builds an Extractor. Keywords are matched case-insensitively; blank
// keywords are dropped.
func New(keywords, langs []string, quality config.Quality, opts Options, logger *zap.Logger) *Extractor {
	kept := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if trimmed := strings.TrimSpace(kw); trimmed != "" {
			kept = append(kept, strings.ToLower(trimmed))
		}
	}
	allowed := make(map[string]bool, len(langs))
	for _, lang := range langs {
		allowed[strings.ToLower(lang)] = true
	}
	return &Extractor{
		keywords:     kept,
		allowedLangs: allowed,
		quality:      quality,
		opts:         opts,
		client:       &http.Client{Timeout: 20 * time.Second},
		logger:       logger,
	}
}

type extraction struct {
	Text        string
	Title       string
	Authors     []string
	PublishedAt string
}

// BuildDocument extracts, augments and scores one fetched page. A nil
// document comes with a Rejection describing the outcome.
func (e *Extractor) BuildDocument(ctx context.Context, candidate crawl.Candidate, result crawl.FetchResult, runID string) (*crawl.Document, *Rejection) {
	ext := e.runTrafilatura(result.HTML, candidate.URL)
	if ext == nil || ext.Text == "" {
		switch {
		case candidate.Source == crawl.SourceYouTube:
			// Video pages rarely survive article extraction; augmentation
			// below rebuilds the text from API metadata.
			ext = &extraction{Title: candidate.Title}
		case isForumCandidate(candidate):
			title := fallbackTitle(result.HTML)
			if title == "" {
				title = candidate.Title
			}
			ext = &extraction{Title: title}
		default:
			return nil, &Rejection{Status: "extract-failed"}
		}
	}

	var video *crawl.VideoMeta
	if candidate.Source == crawl.SourceYouTube {
		video = e.augmentYouTube(ctx, &candidate, ext)
	}
	if e.opts.ForumCommentsEnabled && isForumCandidate(candidate) {
		e.augmentForum(&candidate, ext, result.HTML)
	}

	lang := detectLang(ext.Text)
	quality := e.BuildQuality(ext.Text, lang)
	if quality.KeywordHits < e.quality.MinKeywordHits {
		return nil, &Rejection{Status: "quality-reject", Reason: "keyword_hits", Quality: &quality}
	}
	if quality.Score < e.quality.MinScore {
		return nil, &Rejection{Status: "quality-reject", Reason: "min_score", Quality: &quality}
	}

	publishedAt := ext.PublishedAt
	if len(publishedAt) < 10 {
		publishedAt = ""
	}
	if publishedAt == "" && candidate.Timestamp != nil {
		publishedAt = candidate.Timestamp.UTC().Format(time.RFC3339)
	}
	var publishedPtr *string
	if publishedAt != "" {
		publishedPtr = &publishedAt
	}

	title := ext.Title
	if title == "" {
		title = fallbackTitle(result.HTML)
	}
	if title == "" {
		title = candidate.Title
	}

	urlNorm := urlutil.Normalize(candidate.URL)
	doc := &crawl.Document{
		ID:            urlutil.DocumentID(urlNorm, ext.Text),
		Source:        candidate.Source,
		URL:           candidate.URL,
		SnapshotURL:   result.SnapshotURL,
		Title:         title,
		Text:          ext.Text,
		Lang:          lang,
		PublishedAt:   publishedPtr,
		Authors:       ext.Authors,
		DiscoveredVia: candidate.DiscoveredVia,
		Quality:       quality,
		Dup:           map[string]any{},
		Crawl: crawl.CrawlMeta{
			RunID:       runID,
			FetchedAt:   result.FetchedAt.UTC().Format(time.RFC3339),
			FetchedFrom: result.FetchedFrom,
		},
		Video: video,
		Extra: candidate.Extra,
	}
	if doc.Authors == nil {
		doc.Authors = []string{}
	}
	return doc, nil
}

func (e *Extractor) runTrafilatura(html, rawURL string) *extraction {
	if strings.TrimSpace(html) == "" {
		return nil
	}
	opts := trafilatura.Options{}
	if parsed, err := url.Parse(rawURL); err == nil {
		opts.OriginalURL = parsed
	}
	result, err := trafilatura.Extract(strings.NewReader(html), opts)
	if err != nil || result == nil {
		if err != nil {
			e.logger.Debug("trafilatura extraction failed", zap.String("url", rawURL), zap.Error(err))
		}
		return nil
	}
	ext := &extraction{
		Text:  strings.TrimSpace(result.ContentText),
		Title: strings.TrimSpace(result.Metadata.Title),
	}
	if author := strings.TrimSpace(result.Metadata.Author); author != "" {
		for _, part := range strings.Split(author, ";") {
			if name := strings.TrimSpace(part); name != "" {
				ext.Authors = append(ext.Authors, name)
			}
		}
	}
	if !result.Metadata.Date.IsZero() {
		ext.PublishedAt = result.Metadata.Date.UTC().Format(time.RFC3339)
	}
	return ext
}

// fallbackTitle digs a title out of the document head when the extractor
// found none. OpenGraph wins over the plain title tag.
func fallbackTitle(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if trimmed := strings.TrimSpace(og); trimmed != "" {
			return trimmed
		}
	}
	if meta, ok := doc.Find(`meta[name="title"]`).Attr("content"); ok {
		if trimmed := strings.TrimSpace(meta); trimmed != "" {
			return trimmed
		}
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func detectLang(text string) string {
	if strings.TrimSpace(text) == "" {
		return "und"
	}
	info := whatlanggo.Detect(text)
	if code := info.Lang.Iso6391(); code != "" {
		return code
	}
	return "und"
}

func isForumCandidate(candidate crawl.Candidate) bool {
	kind, _ := candidate.DiscoveredVia["type"].(string)
	return kind == "forum"
}
