package dedupe

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

type mergeRow struct {
	line []byte
	key  string
	when time.Time
	id   string
}

// Merge combines an existing JSONL file with a new batch, drops exact
// duplicates (first occurrence wins, existing file first) and writes the
// result sorted ascending by (published_at, id). Rows without a parseable
// published_at sort before dated ones, keeping their relative order.
func Merge(existingPath, batchPath, outputPath string, logger *zap.Logger) (kept, dropped int, err error) {
	var rows []mergeRow
	seen := make(map[string]struct{})

	for _, path := range []string{existingPath, batchPath} {
		if path == "" {
			continue
		}
		fileRows, err := readRows(path, logger)
		if err != nil {
			return 0, 0, err
		}
		for _, row := range fileRows {
			if row.key != "" {
				if _, dup := seen[row.key]; dup {
					dropped++
					continue
				}
				seen[row.key] = struct{}{}
			}
			rows = append(rows, row)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].when.Equal(rows[j].when) {
			return rows[i].when.Before(rows[j].when)
		}
		return rows[i].id < rows[j].id
	})

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, 0, fmt.Errorf("create output dir: %w", err)
		}
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open output: %w", err)
	}
	writer := bufio.NewWriter(out)
	for _, row := range rows {
		if _, err := writer.Write(row.line); err != nil {
			_ = out.Close()
			return 0, 0, fmt.Errorf("write output: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			_ = out.Close()
			return 0, 0, fmt.Errorf("write output: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		_ = out.Close()
		return 0, 0, fmt.Errorf("flush output: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, 0, fmt.Errorf("close output: %w", err)
	}
	return len(rows), dropped, nil
}

func readRows(path string, logger *zap.Logger) ([]mergeRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	var rows []mergeRow
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil {
			logger.Warn("skipping malformed JSON line",
				zap.String("file", path), zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		rows = append(rows, mergeRow{
			line: append([]byte(nil), line...),
			key:  BuildKey(record),
			when: parsePublished(stringField(record, "published_at")),
			id:   stringField(record, "id"),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

func parsePublished(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
