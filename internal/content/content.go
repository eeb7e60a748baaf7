package content

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	neturl "net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	trafilatura "github.com/markusmobius/go-trafilatura"

	"hypeseeker/internal/httpclient"
	"hypeseeker/internal/hypedb"
)

// maxContextLength caps fetched context so enrichment prompts stay short.
const maxContextLength = 2000

// minDescriptionLength: posts that already carry a description this long get
// no extra context fetch.
const minDescriptionLength = 200

// Fetcher gathers extra context for posts headed into enrichment: the README
// for GitHub repositories, the extracted main text for link posts.
type Fetcher struct {
	client      *httpclient.Client
	githubToken string
	logger      *log.Logger

	rawBase string
	apiBase string
}

func NewFetcher(client *httpclient.Client, githubToken string, logger *log.Logger) *Fetcher {
	return &Fetcher{
		client:      client,
		githubToken: githubToken,
		logger:      logger,
		rawBase:     "https://raw.githubusercontent.com",
		apiBase:     "https://api.github.com",
	}
}

var githubURLRe = regexp.MustCompile(`github\.com/([^/]+)/([^/?#]+)`)

// ForPost fetches context for one post, returning "" when the post needs
// none or fetching fails. Failures are logged, never propagated; context is
// strictly best-effort.
func (f *Fetcher) ForPost(ctx context.Context, p hypedb.Post) string {
	if len(strings.TrimSpace(p.Description)) >= minDescriptionLength {
		return ""
	}
	if m := githubURLRe.FindStringSubmatch(p.URL); m != nil {
		text, err := f.fetchReadme(ctx, m[1], m[2])
		if err != nil && f.logger != nil {
			f.logger.Printf("no readme: source=%s id=%s err=%v", p.Source, p.ID, err)
		}
		return text
	}
	if p.Source == "rss" && p.URL != "" {
		return f.extractArticle(ctx, p.URL)
	}
	return ""
}

// ForPosts fetches context for many posts with bounded concurrency and
// pacing between batches.
func (f *Fetcher) ForPosts(ctx context.Context, posts []hypedb.Post, batchSize int, delay time.Duration) map[hypedb.Key]string {
	if batchSize <= 0 {
		batchSize = 10
	}
	var mu sync.Mutex
	out := make(map[hypedb.Key]string)
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
				if text := f.ForPost(ctx, p); text != "" {
					mu.Lock()
					out[p.Key()] = text
					mu.Unlock()
				}
			}(p)
		}
		wg.Wait()
		if end < len(posts) && delay > 0 {
			select {
			case <-ctx.Done():
				return out
			case <-time.After(delay):
			}
		}
	}
	return out
}

var readmeNames = []string{"README.md", "readme.md", "README.rst", "README.txt", "README"}

// fetchReadme tries raw.githubusercontent.com first (no auth, no rate-limit
// pressure), then falls back to the API.
func (f *Fetcher) fetchReadme(ctx context.Context, owner, repo string) (string, error) {
	for _, branch := range []string{"main", "master"} {
		for _, name := range readmeNames {
			rawURL := fmt.Sprintf("%s/%s/%s/%s/%s", f.rawBase, owner, repo, branch, name)
			text, err := f.client.GetText(ctx, rawURL, nil, maxContextLength+1)
			if err == nil && strings.TrimSpace(text) != "" {
				return truncate(text), nil
			}
		}
	}

	apiURL := fmt.Sprintf("%s/repos/%s/%s/readme", f.apiBase, owner, repo)
	headers := map[string]string{"Accept": "application/vnd.github.v3.raw"}
	if f.githubToken != "" {
		headers["Authorization"] = "Bearer " + f.githubToken
	}
	text, err := f.client.GetText(ctx, apiURL, headers, maxContextLength+1)
	if err != nil {
		return "", err
	}
	return truncate(text), nil
}

// extractArticle downloads a page and pulls its main text with trafilatura.
// Very short extractions are likely boilerplate and are dropped.
func (f *Fetcher) extractArticle(ctx context.Context, pageURL string) string {
	resp, err := f.client.Get(ctx, pageURL, nil)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ""
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil || len(body) == 0 {
		return ""
	}
	parsed, _ := neturl.Parse(pageURL)
	res, err := trafilatura.Extract(bytes.NewReader(body), trafilatura.Options{
		OriginalURL:    parsed,
		EnableFallback: true,
		Focus:          trafilatura.Balanced,
	})
	if err != nil || res == nil {
		return ""
	}
	text := strings.TrimSpace(res.ContentText)
	if len(text) <= 100 {
		return ""
	}
	return truncate(text)
}

func truncate(s string) string {
	if len(s) <= maxContextLength {
		return s
	}
	return s[:maxContextLength] + "\n\n[truncated]"
}
