package fetch

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"hypeseeker/internal/config"
	"hypeseeker/internal/hypedb"
)

// RSS ingests configured RSS/Atom feeds as an additional source alongside
// the API-backed ones. Feed entries carry no popularity signal, so their
// stars stay at zero and ranking relies on the relevance score.
type RSS struct {
	cfg    config.RSSConfig
	parser *gofeed.Parser
	logger *log.Logger
}

func NewRSS(cfg config.RSSConfig, logger *log.Logger) *RSS {
	return &RSS{cfg: cfg, parser: gofeed.NewParser(), logger: logger}
}

func (r *RSS) Name() string { return "rss" }

func (r *RSS) Fetch(ctx context.Context) ([]hypedb.Post, error) {
	type feedResult struct {
		url  string
		feed *gofeed.Feed
		err  error
	}

	var wg sync.WaitGroup
	results := make(chan feedResult, len(r.cfg.Feeds))
	for _, raw := range r.cfg.Feeds {
		feedURL := strings.TrimSpace(raw)
		if feedURL == "" {
			continue
		}
		wg.Add(1)
		go func(feedURL string) {
			defer wg.Done()
			f, err := r.parser.ParseURLWithContext(feedURL, ctx)
			results <- feedResult{url: feedURL, feed: f, err: err}
		}(feedURL)
	}
	go func() { wg.Wait(); close(results) }()

	var posts []hypedb.Post
	for res := range results {
		if res.err != nil || res.feed == nil {
			if r.logger != nil {
				r.logger.Printf("rss feed failed: url=%s err=%v", res.url, res.err)
			}
			continue
		}
		count := 0
		for _, it := range res.feed.Items {
			if it == nil {
				continue
			}
			if r.cfg.MaxItemsPerFeed > 0 && count >= r.cfg.MaxItemsPerFeed {
				break
			}
			id := firstNonEmpty(it.GUID, it.Link)
			if id == "" {
				continue
			}
			createdAt := time.Now().UTC()
			if it.PublishedParsed != nil {
				createdAt = it.PublishedParsed.UTC()
			} else if it.UpdatedParsed != nil {
				createdAt = it.UpdatedParsed.UTC()
			}
			posts = append(posts, hypedb.Post{
				ID:          id,
				Source:      "rss",
				Username:    res.feed.Title,
				Name:        it.Title,
				Description: strings.TrimSpace(it.Description),
				URL:         it.Link,
				CreatedAt:   createdAt,
			})
			count++
		}
	}
	return posts, nil
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
