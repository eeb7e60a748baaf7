package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"hypeseeker/internal/hypedb"
)

// Interests holds the tiered interest profile the scorer embeds into prompts.
type Interests struct {
	High   []string `yaml:"high"`
	Medium []string `yaml:"medium"`
	Low    []string `yaml:"low"`
}

// GitHubConfig filters the GitHub search fetcher.
type GitHubConfig struct {
	MinStars int `yaml:"min_stars"`
}

// RedditConfig filters the Reddit listing fetcher.
type RedditConfig struct {
	Subreddits   []string            `yaml:"subreddits"`
	MinScore     int                 `yaml:"min_score"`
	FlairFilters map[string][]string `yaml:"flair_filters"`
}

// HuggingFaceConfig filters the HuggingFace models fetcher.
type HuggingFaceConfig struct {
	MinLikes     int `yaml:"min_likes"`
	MinDownloads int `yaml:"min_downloads"`
}

// ReplicateConfig filters the Replicate models fetcher.
type ReplicateConfig struct {
	MinRuns int `yaml:"min_runs"`
}

// RSSConfig lists additional feeds to ingest alongside the API sources.
type RSSConfig struct {
	Feeds           []string `yaml:"feeds"`
	MaxItemsPerFeed int      `yaml:"max_items_per_feed"`
}

// Sources groups per-source fetcher settings.
type Sources struct {
	GitHub      GitHubConfig      `yaml:"github"`
	Reddit      RedditConfig      `yaml:"reddit"`
	HuggingFace HuggingFaceConfig `yaml:"huggingface"`
	Replicate   ReplicateConfig   `yaml:"replicate"`
	RSS         RSSConfig         `yaml:"rss"`
}

// PopularityCurve tunes how one source's raw popularity maps onto the shared
// ranking scale. The per-source values are heuristic; they exist to make
// cross-source comparison roughly fair, so they live in config rather than
// code.
type PopularityCurve struct {
	Factor float64 `yaml:"factor"`
	Power  float64 `yaml:"power"`
}

// Moderation configures the query-time validity filter.
type Moderation struct {
	BannedTerms []string                   `yaml:"banned_terms"`
	BannedPairs [][]string                 `yaml:"banned_pairs"`
	Popularity  map[string]PopularityCurve `yaml:"popularity"`
}

// LLMConfig selects the model backend and pacing for scoring and enrichment.
type LLMConfig struct {
	BaseURL       string `yaml:"base_url"`
	FastModel     string `yaml:"fast_model"`
	StrongModel   string `yaml:"strong_model"`
	BatchSize     int    `yaml:"batch_size"`
	ScoreDelayMs  int    `yaml:"score_delay_ms"`
	EnrichDelayMs int    `yaml:"enrich_delay_ms"`
	FailureLog    string `yaml:"failure_log"`
}

// Schedule configures the daemon: wall-clock times, daily, in a timezone.
type Schedule struct {
	Enabled  bool     `yaml:"enabled"`
	Times    []string `yaml:"times"`
	Timezone string   `yaml:"timezone"`
}

// Config is the full application configuration loaded from config.yaml.
type Config struct {
	Profile           string     `yaml:"profile"`
	Interests         Interests  `yaml:"interests"`
	Exclude           []string   `yaml:"exclude"`
	Language          string     `yaml:"language"`
	MinScoreForDigest int        `yaml:"min_score_for_digest"`
	Sources           Sources    `yaml:"sources"`
	Moderation        Moderation `yaml:"moderation"`
	LLM               LLMConfig  `yaml:"llm"`
	Schedule          Schedule   `yaml:"schedule"`
	DatabasePath      string     `yaml:"database_path"`
	DataDir           string     `yaml:"data_dir"`
}

// Default returns a config with every tunable at its built-in value.
func Default() Config {
	return Config{
		Language:          "en",
		MinScoreForDigest: 70,
		Sources: Sources{
			RSS: RSSConfig{MaxItemsPerFeed: 50},
		},
		Moderation: Moderation{
			BannedTerms: []string{"nft", "crypto", "telegram", "clicker", "solana", "stealer"},
			BannedPairs: [][]string{{"stake", "predict"}},
			Popularity: map[string]PopularityCurve{
				"reddit":    {Factor: 0.3},
				"replicate": {Power: 0.6},
			},
		},
		LLM: LLMConfig{
			BatchSize:     5,
			ScoreDelayMs:  200,
			EnrichDelayMs: 500,
			FailureLog:    filepath.Join("data", "llm-failures.jsonl"),
		},
		DatabasePath: filepath.Join("data", "posts.db"),
		DataDir:      "data",
	}
}

// Load reads config.yaml from path, layering it over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.DatabasePath = ExpandPath(cfg.DatabasePath)
	cfg.DataDir = ExpandPath(cfg.DataDir)
	if cfg.LLM.BatchSize <= 0 {
		cfg.LLM.BatchSize = 5
	}
	return cfg, nil
}

// DigestThreshold converts min_score_for_digest (0-100) to the 0-1 scale the
// store queries use.
func (c Config) DigestThreshold() float64 {
	return float64(c.MinScoreForDigest) / 100
}

// Ranking converts the moderation settings into the store's query policy.
func (c Config) Ranking() hypedb.Ranking {
	r := hypedb.Ranking{
		Banned:     c.Moderation.BannedTerms,
		Popularity: map[string]hypedb.Popularity{},
	}
	for _, pair := range c.Moderation.BannedPairs {
		if len(pair) == 2 {
			r.BannedPairs = append(r.BannedPairs, [2]string{strings.ToLower(pair[0]), strings.ToLower(pair[1])})
		}
	}
	for src, curve := range c.Moderation.Popularity {
		r.Popularity[strings.ToLower(src)] = hypedb.Popularity{Factor: curve.Factor, Power: curve.Power}
	}
	return r
}

// Location resolves the schedule timezone, defaulting to the system zone.
func (s Schedule) Location() (*time.Location, error) {
	if strings.TrimSpace(s.Timezone) == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// Env carries credentials pulled from the environment. A .env file next to
// the working directory is honored when present.
type Env struct {
	LLMAPIKey         string
	TelegramBotToken  string
	TelegramChatID    string
	SlackWebhookURL   string
	ReplicateAPIToken string
	GitHubToken       string
}

// LoadEnv reads credentials from the environment, loading .env first if one
// exists. Missing optional credentials disable the respective integration;
// validation of required ones is left to the components that need them.
func LoadEnv() Env {
	_ = godotenv.Load()
	return Env{
		LLMAPIKey:         os.Getenv("OPENAI_API_KEY"),
		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:    os.Getenv("TELEGRAM_CHAT_ID"),
		SlackWebhookURL:   os.Getenv("SLACK_WEBHOOK_URL"),
		ReplicateAPIToken: os.Getenv("REPLICATE_API_TOKEN"),
		GitHubToken:       os.Getenv("GITHUB_TOKEN"),
	}
}

// ExpandPath expands a leading ~ and environment variables in a path.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			if p == "~" {
				p = home
			} else if strings.HasPrefix(p, "~/") {
				p = filepath.Join(home, p[2:])
			}
		}
	}
	return p
}
