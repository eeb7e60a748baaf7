package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"hypeseeker/internal/config"
	"hypeseeker/internal/content"
	"hypeseeker/internal/export"
	"hypeseeker/internal/fetch"
	"hypeseeker/internal/hypedb"
	"hypeseeker/internal/llm"
)

const (
	// unscoredLimit bounds how many posts one run sends to the fast model.
	unscoredLimit = 300
	// Only posts the model considered clearly relevant get the expensive
	// enrichment pass.
	enrichMinScore = 0.6
	enrichLimit    = 50

	contentBatchSize = 10
	contentDelay     = 500 * time.Millisecond
)

// Stats is the machine-readable summary of one update run.
type Stats struct {
	StartedAt  time.Time      `json:"started_at"`
	DurationMs int64          `json:"duration_ms"`
	Fetched    int            `json:"fetched"`
	BySource   map[string]int `json:"by_source"`
	Saved      int            `json:"saved"`
	SaveErrors int            `json:"save_errors"`
	Scored     int            `json:"scored"`
	Enriched   int            `json:"enriched"`
	Exported   []string       `json:"exported,omitempty"`
}

// Pipeline wires fetch, storage, scoring and enrichment into one update run.
type Pipeline struct {
	DB       *sql.DB
	Config   config.Config
	Fetchers []fetch.Fetcher
	Client   llm.Client
	Content  *content.Fetcher
	Logger   *log.Logger
}

// Run executes fetch → save → score → enrich. Source and model failures are
// absorbed into the stats; only storage failures abort the run.
func (p *Pipeline) Run(ctx context.Context) (stats Stats, err error) {
	stats.StartedAt = time.Now().UTC()
	defer func() { stats.DurationMs = time.Since(stats.StartedAt).Milliseconds() }()

	posts, bySource := fetch.All(ctx, p.Fetchers, p.Logger)
	stats.Fetched = len(posts)
	stats.BySource = bySource

	for _, post := range posts {
		if err := hypedb.UpsertPost(ctx, p.DB, post); err != nil {
			stats.SaveErrors++
			if p.Logger != nil {
				p.Logger.Printf("save failed: id=%s source=%s err=%v", post.ID, post.Source, err)
			}
			continue
		}
		stats.Saved++
	}
	if p.Logger != nil {
		p.Logger.Printf("saved %d posts (%d errors)", stats.Saved, stats.SaveErrors)
	}

	ranking := p.Config.Ranking()

	if p.Client != nil {
		unscored, err := hypedb.GetUnscored(ctx, p.DB, ranking, unscoredLimit)
		if err != nil {
			return stats, fmt.Errorf("load unscored: %w", err)
		}
		scorer := llm.NewScorer(p.Client, p.Config, p.Logger)
		stats.Scored = scorer.ScoreBatch(ctx, p.DB, unscored,
			p.Config.LLM.BatchSize, msToDuration(p.Config.LLM.ScoreDelayMs))

		toEnrich, err := hypedb.GetTopScored(ctx, p.DB, ranking, enrichMinScore, enrichLimit)
		if err != nil {
			return stats, fmt.Errorf("load top scored: %w", err)
		}

		var extras map[hypedb.Key]string
		if p.Content != nil && len(toEnrich) > 0 {
			extras = p.Content.ForPosts(ctx, toEnrich, contentBatchSize, contentDelay)
		}
		enricher := llm.NewEnricher(p.Client, p.Config, p.Logger)
		stats.Enriched = enricher.EnrichBatch(ctx, p.DB, toEnrich, func(post hypedb.Post) string {
			return extras[post.Key()]
		}, msToDuration(p.Config.LLM.EnrichDelayMs))
	} else if p.Logger != nil {
		p.Logger.Printf("no API key configured, skipping scoring and enrichment")
	}

	if p.Config.DataDir != "" {
		paths, err := export.Run(ctx, p.DB, ranking, p.Config.DataDir, p.Logger)
		if err != nil {
			if p.Logger != nil {
				p.Logger.Printf("export failed: %v", err)
			}
		} else {
			stats.Exported = paths
		}
	}

	return stats, nil
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
