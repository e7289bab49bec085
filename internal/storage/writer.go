package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nps-senti/crawler/internal/crawl"
)

// Writer appends accepted documents to per-source JSONL files under the
// output root. Each append opens, writes and closes, so lines already on
// disk survive any later crash.
type Writer struct {
	root string
}

// NewWriter creates the output root if needed.
func NewWriter(root string) (*Writer, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}
	return &Writer{root: root}, nil
}

// Root returns the output directory documents are written under.
func (w *Writer) Root() string { return w.root }

// FileFor maps a source to its output file name. News and video sources get
// fixed names; every other source key is treated as a forum site.
func FileFor(source crawl.Source) string {
	switch source {
	case crawl.SourceGDELT:
		return "gdelt.jsonl"
	case crawl.SourceYouTube:
		return "youtube.jsonl"
	default:
		return "forum_" + source + ".jsonl"
	}
}

// Append writes one document as a JSON line to its source file.
func (w *Writer) Append(doc crawl.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", doc.ID, err)
	}
	path := filepath.Join(w.root, FileFor(doc.Source))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
