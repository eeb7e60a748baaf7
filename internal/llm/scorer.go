package llm

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"hypeseeker/internal/config"
	"hypeseeker/internal/hypedb"
)

const scoreMaxTokens = 256

// ScoreResult is the scorer's verdict for one post. A parse or client
// failure yields the neutral zero value, never an error.
type ScoreResult struct {
	Score           float64
	MatchedInterest string
}

// Scorer rates posts against the user's interest profile on the fast tier.
type Scorer struct {
	client        Client
	profile       string
	interestsYAML string
	exclude       string
	logger        *log.Logger
}

func NewScorer(client Client, cfg config.Config, logger *log.Logger) *Scorer {
	interestsYAML, err := yaml.Marshal(cfg.Interests)
	if err != nil {
		interestsYAML = nil
	}
	return &Scorer{
		client:        client,
		profile:       cfg.Profile,
		interestsYAML: string(interestsYAML),
		exclude:       strings.Join(cfg.Exclude, ", "),
		logger:        logger,
	}
}

func (s *Scorer) buildPrompt(p hypedb.Post) string {
	desc := p.Description
	if strings.TrimSpace(desc) == "" {
		desc = "(no description)"
	}
	return fmt.Sprintf(`You are an ML/AI news filter. Rate how relevant this post is for the user.

## User profile:
%s

## Interests (high = 0.8-1.0, medium = 0.5-0.7, low = 0.2-0.4):
%s

## Exclude (score = 0):
%s

## Post to rate:
- Source: %s
- Name: %s
- Author: %s
- Description: %s
- Stars/likes: %d

## Task:
Rate the post's relevance (0.0-1.0) against the user's interests.

Respond with ONLY valid JSON (no markdown):
{"score": 0.0, "matched_interest": "interest name or null"}`,
		s.profile, s.interestsYAML, s.exclude,
		p.Source, p.Name, p.Username, desc, p.Stars)
}

func parseScoreResponse(resp string) ScoreResult {
	raw, ok := extractJSON(resp)
	if !ok {
		return ScoreResult{}
	}
	var parsed struct {
		Score           *float64 `json:"score"`
		MatchedInterest *string  `json:"matched_interest"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return ScoreResult{}
	}
	out := ScoreResult{}
	if parsed.Score != nil {
		out.Score = clamp01(*parsed.Score)
	}
	if parsed.MatchedInterest != nil {
		out.MatchedInterest = *parsed.MatchedInterest
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score rates a single post. Any failure collapses to the neutral result so
// one bad response never takes down a scoring run.
func (s *Scorer) Score(ctx context.Context, p hypedb.Post) ScoreResult {
	resp, err := s.client.Invoke(ctx, TierFast, s.buildPrompt(p), scoreMaxTokens)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("score failed: source=%s id=%s err=%v", p.Source, p.ID, err)
		}
		return ScoreResult{}
	}
	return parseScoreResponse(resp)
}

// ScoreBatch scores posts in fixed-size batches: items within a batch run
// concurrently, batches are separated by delay to respect provider
// throughput. Each result is written to the store as soon as it lands, so
// partial progress survives a crash. Returns the number of posts whose score
// was persisted.
func (s *Scorer) ScoreBatch(ctx context.Context, db *sql.DB, posts []hypedb.Post, batchSize int, delay time.Duration) int {
	if batchSize <= 0 {
		batchSize = 5
	}
	var (
		mu     sync.Mutex
		stored int
	)
	for start := 0; start < len(posts); start += batchSize {
		end := start + batchSize
		if end > len(posts) {
			end = len(posts)
		}
		var wg sync.WaitGroup
		for _, p := range posts[start:end] {
			wg.Add(1)
			go func(p hypedb.Post) {
				defer wg.Done()
				result := s.Score(ctx, p)
				if err := hypedb.UpdateScore(ctx, db, p.ID, p.Source, result.Score, result.MatchedInterest); err != nil {
					if s.logger != nil {
						s.logger.Printf("store score failed: source=%s id=%s err=%v", p.Source, p.ID, err)
					}
					return
				}
				if s.logger != nil {
					s.logger.Printf("scored %s/%s: %.2f (%s)", p.Source, p.Name, result.Score, orNone(result.MatchedInterest))
				}
				mu.Lock()
				stored++
				mu.Unlock()
			}(p)
		}
		wg.Wait()
		if end < len(posts) && delay > 0 {
			select {
			case <-ctx.Done():
				return stored
			case <-time.After(delay):
			}
		}
	}
	return stored
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "no match"
	}
	return s
}
