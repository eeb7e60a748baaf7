package llm

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"hypeseeker/internal/config"
	"hypeseeker/internal/hypedb"
)

const enrichMaxTokens = 512

// EnrichResult carries the human-readable summary and relevance explanation
// for a high-scoring post. Empty fields mean enrichment failed; the post is
// left untouched and becomes eligible again on the next run.
type EnrichResult struct {
	Summary   string
	Relevance string
}

// Enricher writes digest-ready explanations on the strong tier. It only runs
// for posts the cheap scorer already rated above the threshold.
type Enricher struct {
	client   Client
	profile  string
	language string
	logger   *log.Logger
}

func NewEnricher(client Client, cfg config.Config, logger *log.Logger) *Enricher {
	lang := strings.TrimSpace(cfg.Language)
	if lang == "" {
		lang = "en"
	}
	return &Enricher{client: client, profile: cfg.Profile, language: lang, logger: logger}
}

func (e *Enricher) buildPrompt(p hypedb.Post, extra string) string {
	desc := p.Description
	if strings.TrimSpace(desc) == "" {
		desc = "(no description)"
	}
	matched := "general ML/AI interest"
	if p.MatchedInterest.Valid && strings.TrimSpace(p.MatchedInterest.String) != "" {
		matched = p.MatchedInterest.String
	}
	contextSection := ""
	if strings.TrimSpace(extra) != "" {
		contextSection = fmt.Sprintf("\n## Additional context:\n%s\n", extra)
	}
	return fmt.Sprintf(`You are an assistant that explains ML/AI news.

## Post:
- Source: %s
- Name: %s
- Author: %s
- Description: %s
- URL: %s
- Stars/likes: %d
- Matched interest: %s
%s
## User profile:
%s

## Task:
Write two short paragraphs in the language with code "%s":

1. "About": what the project/news is, what it is for, what problem it solves (2-3 sentences).

2. "Why it's in your feed": why this is relevant to the user, based on their interests (1-2 sentences).

Respond with ONLY valid JSON (no markdown):
{"summary": "About: ...", "relevance": "Why it's in your feed: ..."}`,
		p.Source, p.Name, p.Username, desc, p.URL, p.Stars, matched,
		contextSection, e.profile, e.language)
}

func parseEnrichResponse(resp string) EnrichResult {
	raw, ok := extractJSON(resp)
	if !ok {
		return EnrichResult{}
	}
	var parsed struct {
		Summary   string `json:"summary"`
		Relevance string `json:"relevance"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return EnrichResult{}
	}
	return EnrichResult{Summary: parsed.Summary, Relevance: parsed.Relevance}
}

// Enrich produces the digest text for one post. extra is optional fetched
// context (README or article extract). Failures collapse to the empty result.
func (e *Enricher) Enrich(ctx context.Context, p hypedb.Post, extra string) EnrichResult {
	resp, err := e.client.Invoke(ctx, TierStrong, e.buildPrompt(p, extra), enrichMaxTokens)
	if err != nil {
		if e.logger != nil {
			e.logger.Printf("enrich failed: source=%s id=%s err=%v", p.Source, p.ID, err)
		}
		return EnrichResult{}
	}
	return parseEnrichResponse(resp)
}

// EnrichBatch enriches posts strictly sequentially with an inter-call delay;
// the strong model is assumed costlier and lower-limit than the batched
// scorer. Results are written item by item; a failed post keeps its NULL
// summary and is retried on the next full run. Returns the number of posts
// enriched.
func (e *Enricher) EnrichBatch(ctx context.Context, db *sql.DB, posts []hypedb.Post, contextFor func(hypedb.Post) string, delay time.Duration) int {
	enriched := 0
	for i, p := range posts {
		extra := ""
		if contextFor != nil {
			extra = contextFor(p)
		}
		result := e.Enrich(ctx, p, extra)
		if result.Summary != "" && result.Relevance != "" {
			if err := hypedb.UpdateEnrichment(ctx, db, p.ID, p.Source, result.Summary, result.Relevance); err != nil {
				if e.logger != nil {
					e.logger.Printf("store enrichment failed: source=%s id=%s err=%v", p.Source, p.ID, err)
				}
			} else {
				enriched++
				if e.logger != nil {
					e.logger.Printf("enriched %s/%s", p.Source, p.Name)
				}
			}
		} else if e.logger != nil {
			e.logger.Printf("enrich produced no result: %s/%s", p.Source, p.Name)
		}
		if i+1 < len(posts) && delay > 0 {
			select {
			case <-ctx.Done():
				return enriched
			case <-time.After(delay):
			}
		}
	}
	return enriched
}
