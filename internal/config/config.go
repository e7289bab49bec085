// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TimeWindow bounds discovery. End may be zero, meaning "now".
type TimeWindow struct {
	StartDate time.Time
	EndDate   time.Time
}

// OutputConfig sets where JSONL output and state files live.
type OutputConfig struct {
	Root string `mapstructure:"root"`
}

// Limits bound work done in a single run.
type Limits struct {
	MaxCandidatesPerSource int     `mapstructure:"max_candidates_per_source"`
	RequestTimeoutSec      int     `mapstructure:"request_timeout_sec"`
	FetchConcurrency       int     `mapstructure:"fetch_concurrency"`
	FetchPauseSec          float64 `mapstructure:"fetch_pause_sec"`
}

// Quality holds the scoring thresholds. They are configuration, not
// constants: the score floor and keyword minimum gate every write.
type Quality struct {
	MinKeywordHits int     `mapstructure:"min_keyword_hits"`
	MinScore       float64 `mapstructure:"min_score"`
	MinTextChars   int     `mapstructure:"min_text_chars"`
}

// Politeness governs the shared fetcher.
type Politeness struct {
	UserAgent        string `mapstructure:"user_agent"`
	PerDomainMax     int    `mapstructure:"per_domain_max"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// GdeltConfig governs the news-index discoverer.
type GdeltConfig struct {
	Enabled              bool    `mapstructure:"enabled"`
	MaxRecordsPerKeyword int     `mapstructure:"max_records_per_keyword"`
	ChunkDays            int     `mapstructure:"chunk_days"`
	OverlapDays          int     `mapstructure:"overlap_days"`
	PauseBetweenRequests float64 `mapstructure:"pause_between_requests"`
	MaxAttempts          int     `mapstructure:"max_attempts"`
	RateLimitBackoffSec  float64 `mapstructure:"rate_limit_backoff_sec"`
	MaxConcurrency       int     `mapstructure:"max_concurrency"`
	MaxDaysBack          int     `mapstructure:"max_days_back"`
}

// YouTubeConfig governs video discovery. The API key itself comes from the
// YOUTUBE_API_KEY environment variable, never from the config file.
type YouTubeConfig struct {
	MaxResultsPerKeyword int `mapstructure:"max_results_per_keyword"`
}

// ForumSite configures one community board site.
type ForumSite struct {
	Enabled              bool     `mapstructure:"enabled"`
	Boards               []string `mapstructure:"boards"`
	MaxPages             int      `mapstructure:"max_pages"`
	PerBoardLimit        int      `mapstructure:"per_board_limit"`
	PauseBetweenRequests float64  `mapstructure:"pause_between_requests"`
	ObeyRobots           bool     `mapstructure:"obey_robots"`
}

// AutocrawlRound bounds one scheduler round.
type AutocrawlRound struct {
	MaxFetch           int `mapstructure:"max_fetch"`
	MaxGdeltWindows    int `mapstructure:"max_gdelt_windows"`
	MaxYouTubeWindows  int `mapstructure:"max_youtube_windows"`
	MaxYouTubeKeywords int `mapstructure:"max_youtube_keywords"`
	MaxForumsWindows   int `mapstructure:"max_forums_windows"`
}

// AutocrawlYouTube holds the daily quota ledger parameters. ReserveQuota is
// never allocated to new work.
type AutocrawlYouTube struct {
	DailyQuota   int `mapstructure:"daily_quota"`
	ReserveQuota int `mapstructure:"reserve_quota"`
}

// Autocrawl configures the round-based controller.
type Autocrawl struct {
	Enabled                bool             `mapstructure:"enabled"`
	MonthsBack             int              `mapstructure:"months_back"`
	MonthlyTargetPerSource int              `mapstructure:"monthly_target_per_source"`
	IncludeForums          bool             `mapstructure:"include_forums"`
	Round                  AutocrawlRound   `mapstructure:"round"`
	YouTube                AutocrawlYouTube `mapstructure:"youtube"`
}

// Config is the full configuration tree loaded from params.yaml plus
// CRAWLER_* environment overrides.
type Config struct {
	Keywords   []string             `mapstructure:"keywords"`
	Lang       []string             `mapstructure:"lang"`
	TimeWindow TimeWindow           `mapstructure:"-"`
	Output     OutputConfig         `mapstructure:"output"`
	RunID      string               `mapstructure:"-"`
	Limits     Limits               `mapstructure:"limits"`
	Quality    Quality              `mapstructure:"quality"`
	Politeness Politeness           `mapstructure:"politeness"`
	Gdelt      GdeltConfig          `mapstructure:"-"`
	YouTube    YouTubeConfig        `mapstructure:"-"`
	Forums     map[string]ForumSite `mapstructure:"-"`
	Autocrawl  Autocrawl            `mapstructure:"autocrawl"`
}

// Load builds a Config from the given YAML file plus environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := v.UnmarshalKey("sources.gdelt", &cfg.Gdelt); err != nil {
		return Config{}, fmt.Errorf("unmarshal sources.gdelt: %w", err)
	}
	if err := v.UnmarshalKey("sources.youtube", &cfg.YouTube); err != nil {
		return Config{}, fmt.Errorf("unmarshal sources.youtube: %w", err)
	}
	if err := v.UnmarshalKey("sources.forums", &cfg.Forums); err != nil {
		return Config{}, fmt.Errorf("unmarshal sources.forums: %w", err)
	}

	start, err := parseISO(v.GetString("time_window.start_date"))
	if err != nil {
		return Config{}, fmt.Errorf("time_window.start_date: %w", err)
	}
	if start.IsZero() {
		return Config{}, fmt.Errorf("time_window.start_date must be set")
	}
	end, err := parseISO(v.GetString("time_window.end_date"))
	if err != nil {
		return Config{}, fmt.Errorf("time_window.end_date: %w", err)
	}
	cfg.TimeWindow = TimeWindow{StartDate: start, EndDate: end}

	cfg.RunID = v.GetString("crawl.run_id")
	for i, lang := range cfg.Lang {
		cfg.Lang[i] = strings.ToLower(lang)
	}

	// A data-directory override relocates all output and state paths.
	if dataDir := os.Getenv("NPS_DATA_DIR"); dataDir != "" {
		cfg.Output.Root = dataDir
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("lang", []string{"ko"})
	v.SetDefault("output.root", "data_crawl")
	v.SetDefault("limits.max_candidates_per_source", 500)
	v.SetDefault("limits.request_timeout_sec", 30)
	v.SetDefault("limits.fetch_concurrency", 8)
	v.SetDefault("limits.fetch_pause_sec", 0.1)
	v.SetDefault("quality.min_keyword_hits", 1)
	v.SetDefault("quality.min_score", 0.3)
	v.SetDefault("quality.min_text_chars", 80)
	v.SetDefault("politeness.user_agent", "nps-senti-crawler/0.1 (contact: set politeness.user_agent)")
	v.SetDefault("politeness.per_domain_max", 2)
	v.SetDefault("politeness.max_retries", 3)
	v.SetDefault("politeness.backoff_initial_ms", 250)
	v.SetDefault("politeness.backoff_max_ms", 5000)
	v.SetDefault("sources.gdelt.enabled", true)
	v.SetDefault("sources.gdelt.max_records_per_keyword", 100)
	v.SetDefault("sources.gdelt.chunk_days", 30)
	v.SetDefault("sources.gdelt.overlap_days", 2)
	v.SetDefault("sources.gdelt.pause_between_requests", 1.0)
	v.SetDefault("sources.gdelt.max_attempts", 3)
	v.SetDefault("sources.gdelt.rate_limit_backoff_sec", 5.0)
	v.SetDefault("sources.gdelt.max_concurrency", 4)
	v.SetDefault("sources.youtube.max_results_per_keyword", 25)
	v.SetDefault("autocrawl.enabled", false)
	v.SetDefault("autocrawl.months_back", 12)
	v.SetDefault("autocrawl.monthly_target_per_source", 60)
	v.SetDefault("autocrawl.include_forums", true)
	v.SetDefault("autocrawl.round.max_gdelt_windows", 1)
	v.SetDefault("autocrawl.round.max_youtube_windows", 1)
	v.SetDefault("autocrawl.round.max_youtube_keywords", 2)
	v.SetDefault("autocrawl.round.max_forums_windows", 1)
	v.SetDefault("autocrawl.youtube.daily_quota", 1000)
	v.SetDefault("autocrawl.youtube.reserve_quota", 200)
}

// Validate enforces setup-time invariants. Failures here are fatal and
// happen before any network activity.
func (c Config) Validate() error {
	if len(c.Keywords) == 0 {
		return fmt.Errorf("keywords must not be empty")
	}
	if strings.TrimSpace(c.Output.Root) == "" {
		return fmt.Errorf("output.root must be set")
	}
	if c.Limits.RequestTimeoutSec <= 0 {
		return fmt.Errorf("limits.request_timeout_sec must be > 0")
	}
	if c.Limits.FetchConcurrency <= 0 {
		return fmt.Errorf("limits.fetch_concurrency must be > 0")
	}
	if !c.TimeWindow.EndDate.IsZero() && !c.TimeWindow.EndDate.After(c.TimeWindow.StartDate) {
		return fmt.Errorf("time_window.end_date must be after start_date")
	}
	if c.Gdelt.ChunkDays <= 0 {
		return fmt.Errorf("sources.gdelt.chunk_days must be > 0")
	}
	if c.Gdelt.OverlapDays < 0 || c.Gdelt.OverlapDays >= c.Gdelt.ChunkDays {
		return fmt.Errorf("sources.gdelt.overlap_days must be in [0, chunk_days)")
	}
	if c.Autocrawl.YouTube.ReserveQuota < 0 || c.Autocrawl.YouTube.ReserveQuota >= c.Autocrawl.YouTube.DailyQuota {
		return fmt.Errorf("autocrawl.youtube.reserve_quota must be in [0, daily_quota)")
	}
	for site, forum := range c.Forums {
		if !forum.Enabled {
			continue
		}
		if len(forum.Boards) == 0 {
			return fmt.Errorf("sources.forums.%s: enabled site needs at least one board URL", site)
		}
	}
	return nil
}

// RequestTimeout converts the configured timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Limits.RequestTimeoutSec) * time.Second
}

// WithWindow returns a copy of the config with the time window replaced.
// The autocrawl runner uses it to point a pipeline at one month.
func (c Config) WithWindow(start, end time.Time) Config {
	clone := c
	clone.TimeWindow = TimeWindow{StartDate: start, EndDate: end}
	return clone
}

func parseISO(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 value %q", value)
}
