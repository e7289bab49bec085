// Package storage persists accepted documents and the cross-run index.
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/urlutil"
)

const indexFileName = "_index.json"

type indexPayload struct {
	IDs  []string `json:"ids"`
	URLs []string `json:"urls"`
}

// IndexStore remembers which documents and URLs past runs already collected.
// URL membership is checked before any network call, id membership right
// before the write. URLs are stored normalized.
type IndexStore struct {
	path   string
	logger *zap.Logger

	mu    sync.Mutex
	ids   map[string]struct{}
	urls  map[string]struct{}
	dirty bool
}

// OpenIndex loads the index from outputDir, creating the directory when
// missing. A corrupt index file starts fresh; a missing one bootstraps from
// the JSONL files already in the directory, so pre-index data stays covered.
func OpenIndex(outputDir string, logger *zap.Logger) (*IndexStore, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	s := &IndexStore{
		path:   filepath.Join(outputDir, indexFileName),
		logger: logger,
		ids:    make(map[string]struct{}),
		urls:   make(map[string]struct{}),
	}

	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		var payload indexPayload
		if jsonErr := json.Unmarshal(data, &payload); jsonErr != nil {
			logger.Warn("corrupt index file; starting fresh",
				zap.String("path", s.path), zap.Error(jsonErr))
			break
		}
		for _, id := range payload.IDs {
			s.ids[id] = struct{}{}
		}
		for _, u := range payload.URLs {
			s.urls[u] = struct{}{}
		}
	case os.IsNotExist(err):
		s.bootstrap(outputDir)
	default:
		return nil, fmt.Errorf("read index: %w", err)
	}
	return s, nil
}

// bootstrap rebuilds membership from existing JSONL output files.
func (s *IndexStore) bootstrap(outputDir string) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		path := filepath.Join(outputDir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 16<<20)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var record struct {
				ID  string `json:"id"`
				URL string `json:"url"`
			}
			if err := json.Unmarshal(line, &record); err != nil {
				continue
			}
			if record.ID != "" {
				s.ids[record.ID] = struct{}{}
			}
			if record.URL != "" {
				s.urls[urlutil.Normalize(record.URL)] = struct{}{}
			}
		}
		_ = f.Close()
	}
	if len(s.ids) > 0 || len(s.urls) > 0 {
		s.dirty = true
		s.logger.Info("bootstrapped index from existing output",
			zap.Int("ids", len(s.ids)), zap.Int("urls", len(s.urls)))
	}
}

// ContainsID reports whether the document id was stored by any earlier run.
func (s *IndexStore) ContainsID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// ContainsURL reports whether the URL (normalized) was already collected.
func (s *IndexStore) ContainsURL(rawURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.urls[urlutil.Normalize(rawURL)]
	return ok
}

// Add records a stored document's id and URL.
func (s *IndexStore) Add(id, rawURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if _, ok := s.ids[id]; !ok {
			s.ids[id] = struct{}{}
			s.dirty = true
		}
	}
	if rawURL != "" {
		norm := urlutil.Normalize(rawURL)
		if _, ok := s.urls[norm]; !ok {
			s.urls[norm] = struct{}{}
			s.dirty = true
		}
	}
}

// Len returns the number of known document ids.
func (s *IndexStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Flush writes the index atomically (temp file + rename). No-op when
// nothing changed since the last flush.
func (s *IndexStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	payload := indexPayload{
		IDs:  sortedKeys(s.ids),
		URLs: sortedKeys(s.urls),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write index temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	s.dirty = false
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
