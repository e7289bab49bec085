package autocrawl

import (
	"sort"
	"time"

	"github.com/nps-senti/crawler/internal/config"
	"github.com/nps-senti/crawler/internal/discovery/youtube"
)

// Logical sources the scheduler plans per month bucket.
var plannedSources = []string{"gdelt", "youtube", "forums"}

// PlanParams bound one round.
type PlanParams struct {
	MonthsBack         int
	MonthlyTarget      int
	MaxFetch           int
	MaxGdeltWindows    int
	MaxYouTubeWindows  int
	MaxYouTubeKeywords int
	MaxForumsWindows   int
	IncludeForums      bool
}

// Plan is the work selected for one round.
type Plan struct {
	GdeltWindows    []config.TimeWindow
	YouTubeWindows  []config.TimeWindow
	YouTubeKeywords []string
	IncludeForums   bool
	MaxFetch        int
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func nextMonth(t time.Time) time.Time {
	return monthStart(t).AddDate(0, 1, 0)
}

// recentBuckets lists the trailing n month keys, newest first.
func recentBuckets(n int, now time.Time) []string {
	buckets := make([]string, 0, n)
	cur := monthStart(now)
	for i := 0; i < n; i++ {
		buckets = append(buckets, cur.Format("2006-01"))
		cur = cur.AddDate(0, -1, 0)
	}
	return buckets
}

// ComputeDeficits returns the trailing month keys (newest first) and the
// per-bucket, per-source shortfall against the monthly target.
func ComputeDeficits(state *State, monthsBack, monthlyTarget int, now time.Time) ([]string, map[string]map[string]int) {
	buckets := recentBuckets(monthsBack, now)
	deficits := make(map[string]map[string]int, len(buckets))
	for _, bucket := range buckets {
		have := state.Counts[bucket]
		d := make(map[string]int, len(plannedSources))
		for _, src := range plannedSources {
			deficit := monthlyTarget - have[src]
			if deficit < 0 {
				deficit = 0
			}
			d[src] = deficit
		}
		deficits[bucket] = d
	}
	return buckets, deficits
}

// PlanRound selects month windows by deficit and carves out this round's
// keyword subset under the quota ledger. The ledger is charged upfront for
// the selected keywords; a keyword planned is a keyword spent.
func PlanRound(keywords []string, state *State, p PlanParams, now time.Time) Plan {
	buckets, deficits := ComputeDeficits(state, p.MonthsBack, p.MonthlyTarget, now)

	// Rank by total deficit with a slight recency bias: 3% decay per month
	// back, so equal-deficit months resolve newest first.
	type scored struct {
		bucket string
		score  float64
	}
	ranked := make([]scored, 0, len(buckets))
	for idx, bucket := range buckets {
		total := 0
		for _, d := range deficits[bucket] {
			total += d
		}
		weight := 1.0 - float64(idx)*0.03
		ranked = append(ranked, scored{bucket, float64(total) * weight})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	plan := Plan{
		IncludeForums: p.IncludeForums && p.MaxForumsWindows > 0,
		MaxFetch:      p.MaxFetch,
	}
	for _, entry := range ranked {
		bucket := entry.bucket
		start, err := time.Parse("2006-01", bucket)
		if err != nil {
			continue
		}
		end := nextMonth(start)
		if end.After(now) {
			end = now.UTC()
		}
		if !end.After(start) {
			continue
		}
		window := config.TimeWindow{StartDate: start, EndDate: end}
		if len(plan.GdeltWindows) < p.MaxGdeltWindows && deficits[bucket]["gdelt"] > 0 {
			plan.GdeltWindows = append(plan.GdeltWindows, window)
		}
		if len(plan.YouTubeWindows) < p.MaxYouTubeWindows && deficits[bucket]["youtube"] > 0 {
			plan.YouTubeWindows = append(plan.YouTubeWindows, window)
		}
		if len(plan.GdeltWindows) >= p.MaxGdeltWindows && len(plan.YouTubeWindows) >= p.MaxYouTubeWindows {
			break
		}
	}

	plan.YouTubeKeywords = pickKeywords(keywords, state, p.MaxYouTubeKeywords, now)
	return plan
}

// pickKeywords rotates through the keyword list from the persisted cursor,
// bounded by both the per-round cap and what the ledger can still afford at
// the fixed per-keyword cost estimate.
func pickKeywords(keywords []string, state *State, maxKeywords int, now time.Time) []string {
	kept := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw != "" {
			kept = append(kept, kw)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	affordable := state.YouTube.Available(now) / youtube.KeywordCost
	limit := maxKeywords
	if affordable < limit {
		limit = affordable
	}
	if limit <= 0 {
		return nil
	}
	if limit > len(kept) {
		limit = len(kept)
	}
	start := state.KeywordCursor % len(kept)
	chosen := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		chosen = append(chosen, kept[(start+i)%len(kept)])
	}
	state.KeywordCursor = (start + len(chosen)) % len(kept)
	state.YouTube.Consume(len(chosen)*youtube.KeywordCost, now)
	return chosen
}
