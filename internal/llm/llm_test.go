package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openai/openai-go/v2"

	"hypeseeker/internal/config"
	"hypeseeker/internal/hypedb"
)

// fakeClient scripts a sequence of responses; after the script runs out it
// repeats the last entry.
type fakeClient struct {
	mu      sync.Mutex
	script  []fakeReply
	calls   int
	prompts []string
}

type fakeReply struct {
	text string
	err  error
}

func (f *fakeClient) Invoke(ctx context.Context, tier Tier, prompt string, maxTokens int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.calls++
	f.prompts = append(f.prompts, prompt)
	r := f.script[i]
	return r.text, r.err
}

func apiErr(status int, retryAfter string) error {
	req, _ := http.NewRequest(http.MethodPost, "https://api.test/v1/chat/completions", nil)
	header := http.Header{}
	if retryAfter != "" {
		header.Set("Retry-After", retryAfter)
	}
	return &openai.Error{
		StatusCode: status,
		Request:    req,
		Response:   &http.Response{StatusCode: status, Header: header},
	}
}

func rateLimitErr(retryAfter string) error {
	return apiErr(429, retryAfter)
}

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		Timeout:        time.Second,
		RetryDelay:     time.Millisecond,
		RateLimitDelay: 5 * time.Millisecond,
	}
}

func TestRetryRecoversFromRateLimit(t *testing.T) {
	inner := &fakeClient{script: []fakeReply{
		{err: rateLimitErr("")},
		{err: rateLimitErr("")},
		{text: "ok"},
	}}
	c := WithRetry(inner, testPolicy(), nil, nil)

	got, err := c.Invoke(t.Context(), TierFast, "p", 64)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want ok", got)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryHonorsRetryAfterHint(t *testing.T) {
	inner := &fakeClient{script: []fakeReply{
		{err: rateLimitErr("")},
		{err: rateLimitErr("1")},
		{text: "ok"},
	}}
	c := WithRetry(inner, testPolicy(), nil, nil)

	start := time.Now()
	if _, err := c.Invoke(t.Context(), TierFast, "p", 64); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("waited %v, want at least the 1s Retry-After hint", elapsed)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &fakeClient{script: []fakeReply{{err: rateLimitErr("")}}}
	c := WithRetry(inner, testPolicy(), nil, nil)

	_, err := c.Invoke(t.Context(), TierFast, "p", 64)
	if err == nil {
		t.Fatal("want error after exhausting attempts")
	}
	if inner.calls != 5 {
		t.Errorf("calls = %d, want 5", inner.calls)
	}
}

func TestRetryStopsOnTerminalError(t *testing.T) {
	inner := &fakeClient{script: []fakeReply{{err: apiErr(401, "")}}}
	c := WithRetry(inner, testPolicy(), nil, nil)

	_, err := c.Invoke(t.Context(), TierFast, "p", 64)
	if err == nil {
		t.Fatal("want error")
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1 (4xx is not retried)", inner.calls)
	}
}

func TestRetryBacksOffServerErrors(t *testing.T) {
	inner := &fakeClient{script: []fakeReply{
		{err: apiErr(503, "")},
		{text: "ok"},
	}}
	c := WithRetry(inner, testPolicy(), nil, nil)

	if _, err := c.Invoke(t.Context(), TierFast, "p", 64); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2", inner.calls)
	}
}

func TestRetryWritesFailureLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.jsonl")
	inner := &fakeClient{script: []fakeReply{
		{err: rateLimitErr("")},
		{text: "ok"},
	}}
	c := WithRetry(inner, testPolicy(), NewFailureLog(path), nil)

	if _, err := c.Invoke(t.Context(), TierStrong, "p", 64); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failure log: %v", err)
	}
	line := strings.TrimSpace(string(b))
	if !strings.Contains(line, `"kind":"rate_limited"`) || !strings.Contains(line, `"tier":"strong"`) {
		t.Errorf("unexpected failure log entry: %s", line)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"score": 0.8}`, `{"score": 0.8}`, true},
		{"Sure! Here it is:\n```json\n{\"score\": 0.5}\n```", `{"score": 0.5}`, true},
		{`{"a": {"b": 1}} trailing`, `{"a": {"b": 1}}`, true},
		{`{"s": "brace } in string"}`, `{"s": "brace } in string"}`, true},
		{`{"s": "escaped \" quote"}`, `{"s": "escaped \" quote"}`, true},
		{"no json here", "", false},
		{`{"unterminated":`, "", false},
	}
	for _, tc := range cases {
		got, ok := extractJSON(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("extractJSON(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseScoreResponse(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want ScoreResult
	}{
		{"plain", `{"score": 0.8, "matched_interest": "local inference"}`,
			ScoreResult{Score: 0.8, MatchedInterest: "local inference"}},
		{"null interest", `{"score": 0.3, "matched_interest": null}`,
			ScoreResult{Score: 0.3}},
		{"clamped high", `{"score": 7.5}`, ScoreResult{Score: 1}},
		{"clamped low", `{"score": -0.2}`, ScoreResult{Score: 0}},
		{"markdown fenced", "```json\n{\"score\": 0.6}\n```", ScoreResult{Score: 0.6}},
		{"garbage", "I cannot rate this.", ScoreResult{}},
		{"invalid json", `{"score": oops}`, ScoreResult{}},
	}
	for _, tc := range cases {
		if got := parseScoreResponse(tc.in); got != tc.want {
			t.Errorf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestScoreCollapsesFailureToNeutral(t *testing.T) {
	inner := &fakeClient{script: []fakeReply{{err: errors.New("boom")}}}
	s := NewScorer(inner, config.Default(), nil)

	got := s.Score(t.Context(), hypedb.Post{ID: "1", Source: "github", Name: "x"})
	if got != (ScoreResult{}) {
		t.Errorf("got %+v, want zero result on failure", got)
	}
}

func TestScoreBatchPersistsResults(t *testing.T) {
	db, err := hypedb.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := hypedb.InitSchema(db); err != nil {
		t.Fatal(err)
	}

	ctx := t.Context()
	var posts []hypedb.Post
	for i := 0; i < 7; i++ {
		p := hypedb.Post{
			ID:        fmt.Sprintf("%d", i),
			Source:    "github",
			Username:  "u",
			Name:      fmt.Sprintf("repo-%d", i),
			CreatedAt: time.Now(),
		}
		if err := hypedb.UpsertPost(ctx, db, p); err != nil {
			t.Fatal(err)
		}
		posts = append(posts, p)
	}

	inner := &fakeClient{script: []fakeReply{
		{text: `{"score": 0.9, "matched_interest": "agents"}`},
	}}
	s := NewScorer(inner, config.Default(), nil)

	stored := s.ScoreBatch(ctx, db, posts, 3, 0)
	if stored != 7 {
		t.Fatalf("stored = %d, want 7", stored)
	}
	remaining, err := hypedb.GetUnscored(ctx, db, hypedb.DefaultRanking(), 300)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Errorf("%d posts still unscored, want 0", len(remaining))
	}
}

func TestEnrichBatchSkipsIncompleteResults(t *testing.T) {
	db, err := hypedb.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := hypedb.InitSchema(db); err != nil {
		t.Fatal(err)
	}

	ctx := t.Context()
	posts := []hypedb.Post{
		{ID: "1", Source: "github", Username: "u", Name: "a", CreatedAt: time.Now()},
		{ID: "2", Source: "github", Username: "u", Name: "b", CreatedAt: time.Now()},
	}
	for _, p := range posts {
		if err := hypedb.UpsertPost(ctx, db, p); err != nil {
			t.Fatal(err)
		}
	}

	inner := &fakeClient{script: []fakeReply{
		{text: `{"summary": "what it is", "relevance": "why you care"}`},
		{text: `{"summary": "", "relevance": "missing summary"}`},
	}}
	e := NewEnricher(inner, config.Default(), nil)

	stored := e.EnrichBatch(ctx, db, posts, nil, 0)
	if stored != 1 {
		t.Fatalf("stored = %d, want 1 (incomplete result is dropped)", stored)
	}
}

func TestEnricherPromptIncludesContext(t *testing.T) {
	inner := &fakeClient{script: []fakeReply{
		{text: `{"summary": "s", "relevance": "r"}`},
	}}
	e := NewEnricher(inner, config.Default(), nil)

	p := hypedb.Post{ID: "1", Source: "github", Username: "u", Name: "a", CreatedAt: time.Now()}
	e.Enrich(t.Context(), p, "README excerpt about quantization")

	if len(inner.prompts) != 1 {
		t.Fatalf("got %d calls, want 1", len(inner.prompts))
	}
	if !strings.Contains(inner.prompts[0], "README excerpt about quantization") {
		t.Error("prompt should include the fetched context")
	}
}
