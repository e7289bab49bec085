// Package fetch implements the shared polite fetcher using gocolly.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/korean"

	"github.com/nps-senti/crawler/internal/crawl"
	"github.com/nps-senti/crawler/internal/metrics"
)

// Options controls collector behavior. All sources share one Fetcher so the
// per-domain limits hold across the whole run.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	PerDomainMax int
	Delay        time.Duration
	Retry        RetryPolicy
}

// Fetcher implements crawl.Fetcher using the Colly collector.
type Fetcher struct {
	opts   Options
	robots crawl.RobotsPolicy
	base   *colly.Collector
	logger *zap.Logger
}

// New builds a Fetcher. The robots policy is consulted before every request;
// pass NewRobotsEnforcer(false, ...) to disable enforcement.
func New(opts Options, robots crawl.RobotsPolicy, logger *zap.Logger) (*Fetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PerDomainMax <= 0 {
		opts.PerDomainMax = 2
	}

	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = opts.UserAgent
	c.AllowURLRevisit = true
	// Robots enforcement happens through the cached RobotsEnforcer, not
	// through colly's per-request probe.
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(opts.Timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: opts.PerDomainMax,
		Delay:       opts.Delay,
		RandomDelay: opts.Delay / 2,
	}); err != nil {
		return nil, fmt.Errorf("set limit rule: %w", err)
	}

	return &Fetcher{opts: opts, robots: robots, base: c, logger: logger}, nil
}

// Fetch executes a single HTTP GET for the candidate. Transient failures are
// retried with jittered backoff; when the candidate carries a snapshot URL the
// snapshot is tried after the origin is exhausted.
func (f *Fetcher) Fetch(ctx context.Context, candidate crawl.Candidate) (crawl.FetchResult, error) {
	if err := validateTarget(candidate.URL); err != nil {
		metrics.ObserveFetch(string(candidate.Source), "permanent")
		return crawl.FetchResult{}, err
	}
	if !robotsOverridden(candidate) && !f.robots.Allowed(ctx, candidate.URL) {
		metrics.ObserveFetch(string(candidate.Source), "robots")
		return crawl.FetchResult{}, &Error{URL: candidate.URL, Kind: KindRobots, Err: ErrRobotsDisallowed}
	}

	result, err := f.fetchWithRetry(ctx, candidate.Source, candidate.URL, "origin")
	if err == nil {
		metrics.ObserveFetch(string(candidate.Source), "ok")
		return result, nil
	}
	if candidate.SnapshotURL != "" && validateTarget(candidate.SnapshotURL) == nil && ctx.Err() == nil {
		f.logger.Debug("origin fetch failed; trying snapshot",
			zap.String("url", candidate.URL),
			zap.String("snapshot", candidate.SnapshotURL),
			zap.Error(err))
		snapResult, snapErr := f.fetchWithRetry(ctx, candidate.Source, candidate.SnapshotURL, "snapshot")
		if snapErr == nil {
			snapResult.URL = candidate.URL
			snapResult.SnapshotURL = candidate.SnapshotURL
			metrics.ObserveFetch(string(candidate.Source), "ok")
			return snapResult, nil
		}
	}
	if IsTransient(err) {
		metrics.ObserveFetch(string(candidate.Source), "transient")
	} else {
		metrics.ObserveFetch(string(candidate.Source), "permanent")
	}
	return crawl.FetchResult{}, err
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, source crawl.Source, target, from string) (crawl.FetchResult, error) {
	var lastErr *Error
	for attempt := 0; ; attempt++ {
		body, status, err := f.visit(ctx, target)
		if err == nil {
			text, encoding := decodeBody(body, "")
			return crawl.FetchResult{
				URL:         target,
				FetchedFrom: from,
				StatusCode:  status,
				HTML:        text,
				Encoding:    encoding,
				FetchedAt:   time.Now().UTC(),
			}, nil
		}
		kind := classify(status, err)
		lastErr = &Error{URL: target, Kind: kind, StatusCode: status, Attempts: attempt + 1, Err: err}
		if !f.opts.Retry.ShouldRetry(kind, attempt) {
			return crawl.FetchResult{}, lastErr
		}
		f.logger.Debug("retrying fetch",
			zap.String("url", target),
			zap.Int("attempt", attempt+1),
			zap.Int("status", status),
			zap.Error(err))
		if serr := f.opts.Retry.Sleep(ctx, attempt); serr != nil {
			return crawl.FetchResult{}, lastErr
		}
	}
}

// visit runs one collector pass and returns the raw body and status code.
func (f *Fetcher) visit(ctx context.Context, target string) ([]byte, int, error) {
	collector := f.base.Clone()

	var (
		body     []byte
		status   int
		visitErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		visitErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()
	select {
	case <-ctx.Done():
		return nil, 0, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, status, err
		}
		if visitErr != nil {
			return nil, status, visitErr
		}
		return body, status, nil
	}
}

// robotsOverridden reports whether discovery already decided to bypass
// robots for this candidate (forum sites with obey_robots: false).
func robotsOverridden(candidate crawl.Candidate) bool {
	override, _ := candidate.Extra["robots_override"].(bool)
	return override
}

func validateTarget(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return &Error{URL: raw, Kind: KindPermanent, Err: ErrMalformedURL}
	}
	return nil
}

func classify(status int, err error) Kind {
	switch {
	case status == 429 || status >= 500:
		return KindTransient
	case status >= 400:
		return KindPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	// Connection resets, DNS hiccups and the like get the retry budget.
	return KindTransient
}

// decodeBody turns the raw response bytes into a UTF-8 string. Korean
// community sites still serve EUC-KR (and its CP949 superset), so when the
// detected encoding does not yield valid UTF-8 the Korean decoder is tried
// before giving up.
func decodeBody(body []byte, contentType string) (text string, encoding string) {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if certain || name != "windows-1252" {
		if decoded, err := enc.NewDecoder().Bytes(body); err == nil && utf8.Valid(decoded) {
			return string(decoded), name
		}
	}
	if utf8.Valid(body) {
		return string(body), "utf-8"
	}
	if decoded, err := korean.EUCKR.NewDecoder().Bytes(body); err == nil && utf8.Valid(decoded) {
		return string(decoded), "euc-kr"
	}
	return strings.ToValidUTF8(string(body), "�"), "unknown"
}
