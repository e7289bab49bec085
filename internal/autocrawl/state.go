// Package autocrawl implements the deficit-driven round controller: it
// plans backfill windows from per-month stored counts, meters the video
// API quota, and persists its state between rounds.
package autocrawl

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/crawl"
)

// StateFileName is the controller's state file under the output root.
const StateFileName = "_auto_state.json"

// QuotaLedger meters estimated video API units per UTC day. The reserve
// slice is never handed out to new work.
type QuotaLedger struct {
	DailyQuota   int    `json:"daily_quota"`
	ReserveQuota int    `json:"reserve_quota"`
	UsedToday    int    `json:"used_today"`
	Day          string `json:"period_start_utc"`
}

func (q *QuotaLedger) ensureDay(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if q.Day != day {
		q.Day = day
		q.UsedToday = 0
	}
}

// Available returns the units still grantable today.
func (q *QuotaLedger) Available(now time.Time) int {
	q.ensureDay(now)
	avail := q.DailyQuota - q.ReserveQuota - q.UsedToday
	if avail < 0 {
		return 0
	}
	return avail
}

// Consume records spent units against today's ledger.
func (q *QuotaLedger) Consume(units int, now time.Time) {
	q.ensureDay(now)
	if units > 0 {
		q.UsedToday += units
	}
}

// State is the persisted controller state. Counts are keyed by month
// bucket (YYYY-MM in UTC), then source.
type State struct {
	Version        int                       `json:"version"`
	Counts         map[string]map[string]int `json:"counts"`
	StoredBySource map[string]int            `json:"stored_by_source"`
	YouTube        QuotaLedger               `json:"youtube"`
	KeywordCursor  int                       `json:"youtube_kw_cursor"`
	LastUpdated    string                    `json:"last_updated"`
}

// NewState returns an empty state at the current version.
func NewState() *State {
	return &State{
		Version:        1,
		Counts:         make(map[string]map[string]int),
		StoredBySource: make(map[string]int),
	}
}

// LoadState reads the state file. A missing or unreadable file yields a
// fresh state; the controller must be able to start from nothing.
func LoadState(path string, logger *zap.Logger) *State {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewState()
	}
	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		logger.Warn("corrupt autocrawl state, starting fresh", zap.String("path", path), zap.Error(err))
		return NewState()
	}
	if state.Counts == nil {
		state.Counts = make(map[string]map[string]int)
	}
	if state.StoredBySource == nil {
		state.StoredBySource = make(map[string]int)
	}
	return state
}

// Save writes the state atomically next to the JSONL output.
func (s *State) Save(path string, now time.Time) error {
	s.LastUpdated = now.UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// monthBucket formats the UTC month key for a timestamp.
func monthBucket(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// RecordStored attributes one stored document to its month bucket. The
// document's published date wins; the candidate timestamp, then now, are
// the fallbacks for undated documents.
func (s *State) RecordStored(doc crawl.Document, candidate crawl.Candidate, now time.Time) {
	when := now
	if doc.PublishedAt != nil {
		if parsed, err := time.Parse(time.RFC3339, *doc.PublishedAt); err == nil {
			when = parsed
		} else if candidate.Timestamp != nil {
			when = *candidate.Timestamp
		}
	} else if candidate.Timestamp != nil {
		when = *candidate.Timestamp
	}

	bucket := monthBucket(when)
	perSource := s.Counts[bucket]
	if perSource == nil {
		perSource = make(map[string]int)
		s.Counts[bucket] = perSource
	}
	key := schedulerSource(candidate.Source)
	perSource[key]++
	s.StoredBySource[key]++
	s.LastUpdated = now.UTC().Format(time.RFC3339)
}

// schedulerSource folds forum site keys into the logical "forums" bucket
// the scheduler plans against.
func schedulerSource(source crawl.Source) string {
	switch source {
	case crawl.SourceGDELT, crawl.SourceYouTube:
		return string(source)
	default:
		return "forums"
	}
}
