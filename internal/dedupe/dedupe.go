package dedupe

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Stats counts what one dedup pass did. Written + Duplicates == Parsed, and
// Parsed + ParseErrors + EmptyLines == Total.
type Stats struct {
	Total       int
	Parsed      int
	Written     int
	Duplicates  int
	ParseErrors int
	EmptyLines  int
}

// Add merges another file's counters into the running total.
func (s *Stats) Add(other Stats) {
	s.Total += other.Total
	s.Parsed += other.Parsed
	s.Written += other.Written
	s.Duplicates += other.Duplicates
	s.ParseErrors += other.ParseErrors
	s.EmptyLines += other.EmptyLines
}

// Documents can carry whole comment threads on one line.
const maxLineBytes = 16 << 20

// File streams one JSONL file, keeping the first occurrence of every key.
// Output lines are byte-identical to their input lines.
func File(inputPath, outputPath string, logger *zap.Logger) (Stats, error) {
	var stats Stats

	in, err := os.Open(inputPath)
	if err != nil {
		return stats, fmt.Errorf("open input: %w", err)
	}
	defer func() {
		_ = in.Close()
	}()

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return stats, fmt.Errorf("create output dir: %w", err)
		}
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return stats, fmt.Errorf("open output: %w", err)
	}
	writer := bufio.NewWriter(out)

	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		stats.Total++
		line := scanner.Bytes()
		if len(line) == 0 {
			stats.EmptyLines++
			continue
		}

		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil {
			stats.ParseErrors++
			logger.Warn("skipping malformed JSON line",
				zap.String("file", inputPath), zap.Int("line", stats.Total), zap.Error(err))
			continue
		}
		stats.Parsed++

		key := BuildKey(record)
		if key == "" {
			key = fmt.Sprintf("line|%d", stats.Total)
		}
		if _, dup := seen[key]; dup {
			stats.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		if _, err := writer.Write(line); err != nil {
			_ = out.Close()
			return stats, fmt.Errorf("write output: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			_ = out.Close()
			return stats, fmt.Errorf("write output: %w", err)
		}
		stats.Written++
	}
	if err := scanner.Err(); err != nil {
		_ = out.Close()
		return stats, fmt.Errorf("read input: %w", err)
	}
	if err := writer.Flush(); err != nil {
		_ = out.Close()
		return stats, fmt.Errorf("flush output: %w", err)
	}
	if err := out.Close(); err != nil {
		return stats, fmt.Errorf("close output: %w", err)
	}
	return stats, nil
}

// All dedups every .jsonl file in inputDir into files of the same name under
// outputDir and returns the aggregated stats.
func All(inputDir, outputDir string, logger *zap.Logger) (Stats, error) {
	var total Stats

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return total, fmt.Errorf("read input dir: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return total, fmt.Errorf("create output dir: %w", err)
	}

	processed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		inPath := filepath.Join(inputDir, entry.Name())
		outPath := filepath.Join(outputDir, entry.Name())
		stats, err := File(inPath, outPath, logger)
		if err != nil {
			logger.Warn("dedup pass failed", zap.String("file", inPath), zap.Error(err))
			continue
		}
		logger.Info("dedup pass complete",
			zap.String("file", inPath),
			zap.Int("total", stats.Total),
			zap.Int("written", stats.Written),
			zap.Int("duplicates", stats.Duplicates),
			zap.Int("parse_errors", stats.ParseErrors))
		total.Add(stats)
		processed++
	}
	if processed == 0 {
		return total, fmt.Errorf("no .jsonl files found in %s", inputDir)
	}
	return total, nil
}
