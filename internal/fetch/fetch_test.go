package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hypeseeker/internal/config"
	"hypeseeker/internal/httpclient"
	"hypeseeker/internal/hypedb"
)

type stubFetcher struct {
	name  string
	posts []hypedb.Post
	err   error
}

func (s stubFetcher) Name() string { return s.name }
func (s stubFetcher) Fetch(ctx context.Context) ([]hypedb.Post, error) {
	return s.posts, s.err
}

func TestAllIsolatesFailures(t *testing.T) {
	fetchers := []Fetcher{
		stubFetcher{name: "github", posts: []hypedb.Post{
			{ID: "1", Source: "github"}, {ID: "2", Source: "github"},
		}},
		stubFetcher{name: "reddit", err: errors.New("503 from upstream")},
		stubFetcher{name: "huggingface", posts: []hypedb.Post{
			{ID: "3", Source: "huggingface"},
		}},
	}

	posts, counts := All(t.Context(), fetchers, nil)

	if len(posts) != 3 {
		t.Errorf("got %d posts, want 3 from the two healthy sources", len(posts))
	}
	want := map[string]int{"github": 2, "reddit": 0, "huggingface": 1}
	for name, n := range want {
		if counts[name] != n {
			t.Errorf("counts[%s] = %d, want %d", name, counts[name], n)
		}
	}
}

func TestGitHubFetch(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"items": [
			{"id": 42, "owner": {"login": "alice"}, "name": "llama-server",
			 "description": "inference server", "stargazers_count": 230,
			 "html_url": "https://github.com/alice/llama-server",
			 "created_at": "2026-08-28T10:00:00Z"}
		]}`)
	}))
	defer server.Close()

	g := NewGitHub(httpclient.New(5*time.Second), config.GitHubConfig{MinStars: 100}, "tok")
	g.baseURL = server.URL

	posts, err := g.Fetch(t.Context())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotPath != "/search/repositories" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth = %q", gotAuth)
	}
	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(posts))
	}
	p := posts[0]
	if p.ID != "42" || p.Source != "github" || p.Username != "alice" || p.Stars != 230 {
		t.Errorf("unexpected post: %+v", p)
	}
}

func TestGitHubFetchUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	defer server.Close()

	g := NewGitHub(httpclient.New(5*time.Second), config.GitHubConfig{}, "")
	g.baseURL = server.URL

	if _, err := g.Fetch(t.Context()); err == nil {
		t.Error("want error on non-2xx response")
	}
}

func TestRedditFetchFiltersScoreAndFlair(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/r/LocalLLaMA/") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"data": {"children": [
			{"data": {"id": "a", "author": "u1", "title": "New quantization method",
			 "score": 500, "permalink": "/r/LocalLLaMA/a", "link_flair_text": "News",
			 "created_utc": 1756500000}},
			{"data": {"id": "b", "author": "u2", "title": "Low effort meme",
			 "score": 5, "permalink": "/r/LocalLLaMA/b", "link_flair_text": "News",
			 "created_utc": 1756500000}},
			{"data": {"id": "c", "author": "u3", "title": "Question thread",
			 "score": 900, "permalink": "/r/LocalLLaMA/c", "link_flair_text": "Question",
			 "created_utc": 1756500000}}
		]}}`)
	}))
	defer server.Close()

	r := NewReddit(httpclient.New(5*time.Second), config.RedditConfig{
		Subreddits:   []string{"LocalLLaMA"},
		MinScore:     50,
		FlairFilters: map[string][]string{"LocalLLaMA": {"News"}},
	})
	r.baseURL = server.URL

	posts, err := r.Fetch(t.Context())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "a" {
		t.Fatalf("got %v, want only the high-score News post", postIDs(posts))
	}
	if posts[0].URL != server.URL+"/r/LocalLLaMA/a" {
		t.Errorf("URL = %s", posts[0].URL)
	}
}

func TestRedditPartialSubredditFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/r/good/") {
			fmt.Fprint(w, `{"data": {"children": [
				{"data": {"id": "a", "author": "u", "title": "t", "score": 100,
				 "permalink": "/r/good/a", "created_utc": 1756500000}}
			]}}`)
			return
		}
		http.Error(w, "banned", http.StatusNotFound)
	}))
	defer server.Close()

	r := NewReddit(httpclient.New(5*time.Second), config.RedditConfig{
		Subreddits: []string{"good", "gone"},
	})
	r.baseURL = server.URL

	posts, err := r.Fetch(t.Context())
	if err != nil {
		t.Fatalf("one healthy subreddit should carry the fetch: %v", err)
	}
	if len(posts) != 1 {
		t.Errorf("got %d posts, want 1", len(posts))
	}
}

func TestHuggingFaceFetchFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"_id": "1", "id": "meta/llama", "likes": 900, "downloads": 100000,
			 "createdAt": "2026-08-27T00:00:00Z"},
			{"_id": "2", "id": "nobody/tiny", "likes": 2, "downloads": 10,
			 "createdAt": "2026-08-27T00:00:00Z"}
		]`)
	}))
	defer server.Close()

	h := NewHuggingFace(httpclient.New(5*time.Second), config.HuggingFaceConfig{MinLikes: 50})
	h.baseURL = server.URL

	posts, err := h.Fetch(t.Context())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1 above the likes floor", len(posts))
	}
	if posts[0].Username != "meta" || posts[0].Name != "llama" {
		t.Errorf("model id split wrong: %+v", posts[0])
	}
}

func TestRSSFetch(t *testing.T) {
	feed := `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>ML Blog</title>
  <item><guid>post-1</guid><title>First</title><link>https://blog/1</link>
    <description>d1</description><pubDate>Fri, 28 Aug 2026 10:00:00 GMT</pubDate></item>
  <item><guid>post-2</guid><title>Second</title><link>https://blog/2</link>
    <description>d2</description><pubDate>Fri, 28 Aug 2026 11:00:00 GMT</pubDate></item>
  <item><guid>post-3</guid><title>Third</title><link>https://blog/3</link>
    <description>d3</description><pubDate>Fri, 28 Aug 2026 12:00:00 GMT</pubDate></item>
</channel></rss>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, feed)
	}))
	defer server.Close()

	r := NewRSS(config.RSSConfig{Feeds: []string{server.URL}, MaxItemsPerFeed: 2}, nil)

	posts, err := r.Fetch(t.Context())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2 (per-feed cap)", len(posts))
	}
	for _, p := range posts {
		if p.Source != "rss" || p.Username != "ML Blog" || p.Stars != 0 {
			t.Errorf("unexpected post: %+v", p)
		}
	}
}

func TestNewSkipsUnconfiguredSources(t *testing.T) {
	cfg := config.Default()
	fetchers := New(cfg, config.Env{}, nil)

	names := make(map[string]bool)
	for _, f := range fetchers {
		names[f.Name()] = true
	}
	if !names["github"] || !names["huggingface"] {
		t.Errorf("github and huggingface should always run, got %v", names)
	}
	if names["reddit"] || names["replicate"] || names["rss"] {
		t.Errorf("unconfigured sources should be skipped, got %v", names)
	}
}

func postIDs(posts []hypedb.Post) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}
