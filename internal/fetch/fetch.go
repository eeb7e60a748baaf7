package fetch

import (
	"context"
	"log"
	"sync"
	"time"

	"hypeseeker/internal/config"
	"hypeseeker/internal/httpclient"
	"hypeseeker/internal/hypedb"
)

// Fetcher pulls recent posts from one upstream source. Implementations
// return already-deduplicated items in source-native units; cross-run
// deduplication is the store's job.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]hypedb.Post, error)
}

// New builds the fetcher set for the configured sources. Sources without the
// credentials or settings they need are left out rather than constructed to
// fail.
func New(cfg config.Config, env config.Env, logger *log.Logger) []Fetcher {
	client := httpclient.New(30 * time.Second)
	fetchers := []Fetcher{
		NewGitHub(client, cfg.Sources.GitHub, env.GitHubToken),
		NewHuggingFace(client, cfg.Sources.HuggingFace),
	}
	if len(cfg.Sources.Reddit.Subreddits) > 0 {
		fetchers = append(fetchers, NewReddit(client, cfg.Sources.Reddit))
	}
	if env.ReplicateAPIToken != "" {
		fetchers = append(fetchers, NewReplicate(client, cfg.Sources.Replicate, env.ReplicateAPIToken))
	} else if logger != nil {
		logger.Printf("replicate source disabled: REPLICATE_API_TOKEN not set")
	}
	if len(cfg.Sources.RSS.Feeds) > 0 {
		fetchers = append(fetchers, NewRSS(cfg.Sources.RSS, logger))
	}
	return fetchers
}

// All runs every fetcher concurrently. A failed fetcher contributes zero
// posts and a logged error; the others are unaffected. Partial success is
// the normal case. The returned map carries per-source item counts for the
// run summary (a failed source appears with count 0).
func All(ctx context.Context, fetchers []Fetcher, logger *log.Logger) ([]hypedb.Post, map[string]int) {
	type result struct {
		name  string
		posts []hypedb.Post
		err   error
	}

	var wg sync.WaitGroup
	results := make(chan result, len(fetchers))
	for _, f := range fetchers {
		wg.Add(1)
		go func(f Fetcher) {
			defer wg.Done()
			posts, err := f.Fetch(ctx)
			results <- result{name: f.Name(), posts: posts, err: err}
		}(f)
	}
	go func() { wg.Wait(); close(results) }()

	var all []hypedb.Post
	counts := make(map[string]int, len(fetchers))
	for r := range results {
		if r.err != nil {
			if logger != nil {
				logger.Printf("fetch failed: source=%s err=%v", r.name, r.err)
			}
			counts[r.name] = 0
			continue
		}
		counts[r.name] = len(r.posts)
		all = append(all, r.posts...)
	}
	return all, counts
}
