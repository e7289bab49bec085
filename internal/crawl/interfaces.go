package crawl

import (
	"context"
)

// Discoverer enumerates crawl candidates for one source. Implementations
// must recover from per-window and per-page failures internally: a failed
// window is logged and skipped, never surfaced as an error for the pass.
type Discoverer interface {
	Discover(ctx context.Context) ([]Candidate, error)
}

// Fetcher retrieves a candidate's payload under politeness constraints.
type Fetcher interface {
	Fetch(ctx context.Context, candidate Candidate) (FetchResult, error)
}

// RobotsPolicy answers whether a URL may be requested at all.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// StoreObserver is invoked after a document has been durably appended.
// The autocrawl state uses it to maintain per-(month, source) counts.
type StoreObserver func(doc Document, candidate Candidate)
