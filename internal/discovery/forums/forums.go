// Package forums discovers thread candidates from Korean community board
// listing pages. Discovery only touches listings; thread bodies are left to
// the fetcher, which runs its own robots check.
package forums

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/config"
	"github.com/nps-senti/crawler/internal/crawl"
	"github.com/nps-senti/crawler/internal/urlutil"
)

// listing is one thread link lifted off a board page.
type listing struct {
	url         string
	title       string
	author      string
	publishedAt string
}

type siteParser func(base *url.URL, doc *goquery.Document) []listing

// Discoverer walks configured board listings site by site. A failed listing
// page breaks that board only; the pass never aborts on one bad board.
type Discoverer struct {
	client *http.Client
	sites  map[string]config.ForumSite
	robots crawl.RobotsPolicy
	logger *zap.Logger
}

// New builds a Discoverer over the configured sites. Sites without a
// registered parser are skipped with a log line.
func New(client *http.Client, sites map[string]config.ForumSite, robots crawl.RobotsPolicy, logger *zap.Logger) *Discoverer {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Discoverer{client: client, sites: sites, robots: robots, logger: logger}
}

var parsers = map[string]siteParser{
	crawl.SourceDCInside:   parseDCInside,
	crawl.SourceBobaedream: parseBobaedream,
	crawl.SourceMLBPark:    parseMLBPark,
	crawl.SourceTheqoo:     parseTheqoo,
	crawl.SourcePpomppu:    parsePpomppu,
}

// pageParam returns the query parameter each site uses for listing pages.
func pageParam(site string) string {
	if site == crawl.SourceMLBPark {
		return "p"
	}
	return "page"
}

// Discover walks every enabled site's boards in a stable order and returns
// the flattened candidate list. Candidates keep their site key as Source so
// the writer can route them to forum_<site>.jsonl.
func (d *Discoverer) Discover(ctx context.Context) ([]crawl.Candidate, error) {
	names := make([]string, 0, len(d.sites))
	for name := range d.sites {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []crawl.Candidate
	for _, site := range names {
		cfg := d.sites[site]
		if !cfg.Enabled {
			continue
		}
		parse, ok := parsers[site]
		if !ok {
			d.logger.Warn("no parser for forum site", zap.String("site", site))
			continue
		}
		found := d.discoverSite(ctx, site, cfg, parse)
		d.logger.Info("forum discovery finished",
			zap.String("site", site),
			zap.Int("candidates", len(found)))
		out = append(out, found...)
	}
	return out, nil
}

func (d *Discoverer) discoverSite(ctx context.Context, site string, cfg config.ForumSite, parse siteParser) []crawl.Candidate {
	maxPages := cfg.MaxPages
	if maxPages < 1 {
		maxPages = 1
	}
	limit := cfg.PerBoardLimit
	if limit < 1 {
		limit = 1
	}
	pause := time.Duration(cfg.PauseBetweenRequests * float64(time.Second))

	var out []crawl.Candidate
	for _, board := range cfg.Boards {
		if board == "" {
			continue
		}
		base, err := url.Parse(board)
		if err != nil {
			d.logger.Warn("bad board URL", zap.String("site", site), zap.String("board", board), zap.Error(err))
			continue
		}
		seen := make(map[string]struct{})
		kept := 0
	pages:
		for page := 1; page <= maxPages; page++ {
			pageURL := buildPageURL(site, base, page)
			if cfg.ObeyRobots && !d.robots.Allowed(ctx, pageURL) {
				d.logger.Debug("listing disallowed by robots", zap.String("url", pageURL))
				continue
			}
			doc, err := d.fetchListing(ctx, pageURL)
			if err != nil {
				d.logger.Debug("listing fetch failed",
					zap.String("site", site),
					zap.String("url", pageURL),
					zap.Error(err))
				break
			}
			for _, item := range parse(base, doc) {
				if item.url == "" {
					continue
				}
				norm := urlutil.Normalize(item.url)
				if _, dup := seen[norm]; dup {
					continue
				}
				seen[norm] = struct{}{}
				out = append(out, d.toCandidate(site, board, page, cfg, item))
				kept++
				if kept >= limit {
					break pages
				}
			}
			if page < maxPages && pause > 0 {
				if err := sleepCtx(ctx, pause); err != nil {
					return out
				}
			}
		}
	}
	return out
}

func (d *Discoverer) fetchListing(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &listingError{url: pageURL, status: resp.StatusCode}
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

type listingError struct {
	url    string
	status int
}

func (e *listingError) Error() string {
	return "listing " + e.url + " returned status " + strconv.Itoa(e.status)
}

func (d *Discoverer) toCandidate(site, board string, page int, cfg config.ForumSite, item listing) crawl.Candidate {
	var ts *time.Time
	if parsed, ok := guessTime(item.publishedAt); ok {
		ts = &parsed
	}
	forumMeta := map[string]any{"site": site, "board": board}
	if item.author != "" {
		forumMeta["author"] = item.author
	}
	extra := map[string]any{"forum": forumMeta}
	if !cfg.ObeyRobots {
		// Discovery already decided to skip robots for this site; tell the
		// fetcher so thread fetches stay consistent with the listing walk.
		extra["robots_override"] = true
	}
	return crawl.Candidate{
		URL:    item.url,
		Source: site,
		DiscoveredVia: map[string]any{
			"type":  "forum",
			"site":  site,
			"board": board,
			"page":  page,
		},
		Title:     item.title,
		Timestamp: ts,
		Extra:     extra,
	}
}

// buildPageURL sets the site's page parameter on the board URL. Page 1 is
// the board URL untouched.
func buildPageURL(site string, base *url.URL, page int) string {
	if page <= 1 {
		return base.String()
	}
	u := *base
	q := u.Query()
	q.Set(pageParam(site), strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

func resolveHref(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// rowMeta pulls author and date out of the table row enclosing a title link.
// The timestamp cell often keeps the full datetime in a title attribute
// while showing only a clock time.
func rowMeta(sel *goquery.Selection, authorSel, dateSel string) (author, published string) {
	tr := sel.Closest("tr")
	if tr.Length() == 0 {
		return "", ""
	}
	if au := tr.Find(authorSel).First(); au.Length() > 0 {
		author = strings.TrimSpace(au.Text())
	}
	if dt := tr.Find(dateSel).First(); dt.Length() > 0 {
		if title, ok := dt.Attr("title"); ok && strings.TrimSpace(title) != "" {
			published = strings.TrimSpace(title)
		} else {
			published = strings.TrimSpace(dt.Text())
		}
	}
	return author, published
}

func parseDCInside(base *url.URL, doc *goquery.Document) []listing {
	var items []listing
	doc.Find("td.gall_tit a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !strings.Contains(href, "/board/view/") {
			return
		}
		author, published := rowMeta(a, "td.gall_writer", "td.gall_date")
		items = append(items, listing{
			url:         resolveHref(base, href),
			title:       strings.TrimSpace(a.Text()),
			author:      author,
			publishedAt: published,
		})
	})
	if len(items) > 0 {
		return items
	}
	// Some gallery skins drop the gall_tit class; fall back to any view link.
	doc.Find(`a[href*="/board/view/"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		items = append(items, listing{
			url:   resolveHref(base, href),
			title: strings.TrimSpace(a.Text()),
		})
	})
	return items
}

func parseBobaedream(base *url.URL, doc *goquery.Document) []listing {
	var items []listing
	// Legacy /board/bbs_view? and current /view?code= patterns both appear.
	doc.Find(`a[href*="/board/bbs_view?"], a[href*="/view?code="]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		author, published := rowMeta(a, "td.author, td.writer, td.name", "td.date, td.regdate, td.time")
		items = append(items, listing{
			url:         resolveHref(base, href),
			title:       strings.TrimSpace(a.Text()),
			author:      author,
			publishedAt: published,
		})
	})
	return items
}

func parseMLBPark(base *url.URL, doc *goquery.Document) []listing {
	var items []listing
	doc.Find(`a[href*="/mp/b.php"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !strings.Contains(href, "m=view") && !strings.Contains(href, "idx=") {
			return
		}
		author, published := rowMeta(a, "td.nikcon, td.author, td.name", "td.date, td.time")
		items = append(items, listing{
			url:         resolveHref(base, href),
			title:       strings.TrimSpace(a.Text()),
			author:      author,
			publishedAt: published,
		})
	})
	return items
}

var theqooThread = regexp.MustCompile(`/square/\d+`)

func parseTheqoo(base *url.URL, doc *goquery.Document) []listing {
	var items []listing
	doc.Find(`a[href*="/square/"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !theqooThread.MatchString(href) {
			return
		}
		author, published := rowMeta(a, "td.nik, td.author, td.name", "td.time, td.date")
		items = append(items, listing{
			url:         resolveHref(base, href),
			title:       strings.TrimSpace(a.Text()),
			author:      author,
			publishedAt: published,
		})
	})
	return items
}

func parsePpomppu(base *url.URL, doc *goquery.Document) []listing {
	var items []listing
	doc.Find(`a[href*="/zboard/view.php?id="]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		author, published := rowMeta(a, "td.name, td.author, td.writer", "td.date, td.regdate, td.time")
		items = append(items, listing{
			url:         resolveHref(base, href),
			title:       strings.TrimSpace(a.Text()),
			author:      author,
			publishedAt: published,
		})
	})
	return items
}

var listingTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
	"2006.01.02",
	"2006/01/02",
}

var digitsOnly = regexp.MustCompile(`\D`)

// guessTime tries the datetime shapes Korean boards render in listing cells.
// Bare clock times ("14:22" on today's posts) are not guessed.
func guessTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range listingTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	digits := digitsOnly.ReplaceAllString(s, "")
	for _, layout := range []string{"20060102150405", "200601021504", "20060102"} {
		if ts, err := time.Parse(layout, digits); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
