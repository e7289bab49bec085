package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := writeConfig(t, `
keywords:
  - 국민연금
  - 연금개혁
lang: [ko, en]
time_window:
  start_date: "2024-01-01"
  end_date: "2024-06-30"
output:
  root: out
limits:
  max_candidates_per_source: 100
  request_timeout_sec: 10
  fetch_concurrency: 4
  fetch_pause_sec: 0.2
quality:
  min_keyword_hits: 2
  min_score: 0.5
  min_text_chars: 120
sources:
  gdelt:
    enabled: true
    max_records_per_keyword: 75
    chunk_days: 14
    overlap_days: 2
  forums:
    dcinside:
      enabled: true
      boards: ["https://gall.dcinside.com/board/lists/?id=pension"]
      max_pages: 3
      per_board_limit: 40
autocrawl:
  enabled: true
  months_back: 6
  monthly_target_per_source: 30
  youtube:
    daily_quota: 2000
    reserve_quota: 500
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Keywords) != 2 || cfg.Keywords[0] != "국민연금" {
		t.Fatalf("unexpected keywords: %v", cfg.Keywords)
	}
	if got := cfg.TimeWindow.StartDate; !got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start date: %v", got)
	}
	if cfg.Limits.FetchConcurrency != 4 {
		t.Fatalf("limits not applied: %+v", cfg.Limits)
	}
	if cfg.Quality.MinScore != 0.5 || cfg.Quality.MinTextChars != 120 {
		t.Fatalf("quality not applied: %+v", cfg.Quality)
	}
	if cfg.Gdelt.ChunkDays != 14 || cfg.Gdelt.OverlapDays != 2 {
		t.Fatalf("gdelt not applied: %+v", cfg.Gdelt)
	}
	site, ok := cfg.Forums["dcinside"]
	if !ok || !site.Enabled || site.MaxPages != 3 {
		t.Fatalf("forum site not applied: %+v", cfg.Forums)
	}
	if cfg.Autocrawl.YouTube.DailyQuota != 2000 || cfg.Autocrawl.YouTube.ReserveQuota != 500 {
		t.Fatalf("autocrawl quota not applied: %+v", cfg.Autocrawl.YouTube)
	}
	// Untouched keys keep defaults.
	if cfg.Politeness.PerDomainMax != 2 {
		t.Fatalf("expected default per_domain_max, got %d", cfg.Politeness.PerDomainMax)
	}
	if cfg.Autocrawl.Round.MaxYouTubeKeywords != 2 {
		t.Fatalf("expected default round config, got %+v", cfg.Autocrawl.Round)
	}
}

func TestLoadValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing start date",
			yaml: `
keywords: [pension]
`,
			wantErr: "start_date",
		},
		{
			name: "missing keywords",
			yaml: `
time_window:
  start_date: "2024-01-01"
`,
			wantErr: "keywords",
		},
		{
			name: "end before start",
			yaml: `
keywords: [pension]
time_window:
  start_date: "2024-06-01"
  end_date: "2024-01-01"
`,
			wantErr: "end_date",
		},
		{
			name: "enabled forum without boards",
			yaml: `
keywords: [pension]
time_window:
  start_date: "2024-01-01"
sources:
  forums:
    theqoo:
      enabled: true
`,
			wantErr: "theqoo",
		},
		{
			name: "reserve at least daily quota",
			yaml: `
keywords: [pension]
time_window:
  start_date: "2024-01-01"
autocrawl:
  youtube:
    daily_quota: 100
    reserve_quota: 100
`,
			wantErr: "reserve_quota",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestDataDirOverride(t *testing.T) {
	t.Setenv("NPS_DATA_DIR", "/tmp/relocated")
	cfg, err := Load(writeConfig(t, `
keywords: [pension]
time_window:
  start_date: "2024-01-01"
output:
  root: ignored
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Output.Root != "/tmp/relocated" {
		t.Fatalf("expected NPS_DATA_DIR to win, got %q", cfg.Output.Root)
	}
}

func TestWithWindow(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
keywords: [pension]
time_window:
  start_date: "2024-01-01"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	clone := cfg.WithWindow(start, end)
	if !clone.TimeWindow.StartDate.Equal(start) || !clone.TimeWindow.EndDate.Equal(end) {
		t.Fatalf("window not replaced: %+v", clone.TimeWindow)
	}
	if cfg.TimeWindow.EndDate.Equal(end) {
		t.Fatalf("original config mutated")
	}
}
