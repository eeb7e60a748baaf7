package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"hypeseeker/internal/hypedb"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := hypedb.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := hypedb.InitSchema(db, "telegram", "slack"); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return db
}

func seedScoredPosts(t *testing.T, db *sql.DB, n int) {
	t.Helper()
	ctx := t.Context()
	for i := 0; i < n; i++ {
		p := hypedb.Post{
			ID:        fmt.Sprintf("%d", i),
			Source:    "github",
			Username:  "u",
			Name:      fmt.Sprintf("repo-%d", i),
			Stars:     int64(100 - i),
			URL:       fmt.Sprintf("https://github.com/u/repo-%d", i),
			CreatedAt: time.Now().UTC(),
		}
		if err := hypedb.UpsertPost(ctx, db, p); err != nil {
			t.Fatal(err)
		}
		if err := hypedb.UpdateScore(ctx, db, p.ID, p.Source, 0.9, "agents"); err != nil {
			t.Fatal(err)
		}
	}
}

// fakeChannel records chunks and optionally fails on the nth Send call
// (1-based); failAt 0 never fails.
type fakeChannel struct {
	name   string
	chunk  int
	failAt int
	calls  int
	sent   [][]hypedb.Post
}

func (f *fakeChannel) Name() string  { return f.name }
func (f *fakeChannel) MaxChunk() int { return f.chunk }
func (f *fakeChannel) Send(ctx context.Context, posts []hypedb.Post, offset int) error {
	f.calls++
	if f.failAt != 0 && f.calls == f.failAt {
		return errors.New("upstream 502")
	}
	f.sent = append(f.sent, posts)
	return nil
}

func newDispatcher(db *sql.DB) *Dispatcher {
	return &Dispatcher{
		DB:       db,
		Ranking:  hypedb.DefaultRanking(),
		MinScore: 0.7,
		Window:   24 * time.Hour,
	}
}

func TestDispatchMarksAfterAllChunks(t *testing.T) {
	db := openTestDB(t)
	seedScoredPosts(t, db, 7)

	ch := &fakeChannel{name: "telegram", chunk: 3}
	sent := newDispatcher(db).Dispatch(t.Context(), []Channel{ch})

	if sent["telegram"] != 7 {
		t.Errorf("sent = %d, want 7", sent["telegram"])
	}
	if len(ch.sent) != 3 {
		t.Errorf("got %d chunks, want 3", len(ch.sent))
	}

	remaining, err := hypedb.GetUnsent(t.Context(), db, hypedb.DefaultRanking(), "telegram", 0.7, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Errorf("%d posts still unsent, want 0", len(remaining))
	}
}

func TestDispatchFailedChunkMarksNothing(t *testing.T) {
	db := openTestDB(t)
	seedScoredPosts(t, db, 7)

	// Chunk 2 of 3 fails mid-digest.
	ch := &fakeChannel{name: "telegram", chunk: 3, failAt: 2}
	sent := newDispatcher(db).Dispatch(t.Context(), []Channel{ch})

	if sent["telegram"] != 0 {
		t.Errorf("sent = %d, want 0 after a partial failure", sent["telegram"])
	}
	remaining, err := hypedb.GetUnsent(t.Context(), db, hypedb.DefaultRanking(), "telegram", 0.7, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 7 {
		t.Fatalf("%d posts unsent, want all 7 eligible for retry", len(remaining))
	}

	// The retry run delivers everything.
	retry := &fakeChannel{name: "telegram", chunk: 3}
	sent = newDispatcher(db).Dispatch(t.Context(), []Channel{retry})
	if sent["telegram"] != 7 {
		t.Errorf("retry sent = %d, want 7", sent["telegram"])
	}
}

func TestDispatchChannelsAreIndependent(t *testing.T) {
	db := openTestDB(t)
	seedScoredPosts(t, db, 3)

	broken := &fakeChannel{name: "telegram", chunk: 5, failAt: 1}
	healthy := &fakeChannel{name: "slack", chunk: 5}
	sent := newDispatcher(db).Dispatch(t.Context(), []Channel{broken, healthy})

	if sent["telegram"] != 0 {
		t.Errorf("telegram sent = %d, want 0", sent["telegram"])
	}
	if sent["slack"] != 3 {
		t.Errorf("slack sent = %d, want 3 despite the telegram failure", sent["slack"])
	}
}

func TestDispatchNoEligiblePosts(t *testing.T) {
	db := openTestDB(t)

	ch := &fakeChannel{name: "telegram", chunk: 5}
	sent := newDispatcher(db).Dispatch(t.Context(), []Channel{ch})

	if sent["telegram"] != 0 || ch.calls != 0 {
		t.Errorf("empty digest should not call the channel: sent=%d calls=%d", sent["telegram"], ch.calls)
	}
}

func TestFormatTelegramPostEscapesHTML(t *testing.T) {
	p := hypedb.Post{
		ID:     "1",
		Source: "github",
		Name:   "tags <b> & more",
		URL:    "https://example.com/x",
		RelevanceScore: sql.NullFloat64{Float64: 0.8, Valid: true},
		Summary:        sql.NullString{String: "uses <channels>", Valid: true},
	}
	got := formatTelegramPost(p, 1)
	if strings.Contains(got, "<b> &") || !strings.Contains(got, "tags &lt;b&gt; &amp; more") {
		t.Errorf("name not escaped: %q", got)
	}
	if !strings.Contains(got, "uses &lt;channels&gt;") {
		t.Errorf("summary not escaped: %q", got)
	}
	if !strings.Contains(got, "80%") {
		t.Errorf("score missing: %q", got)
	}
}

func TestSlackSendBuildsBlocks(t *testing.T) {
	var got *slack.WebhookMessage
	s := &Slack{
		webhookURL: "https://hooks.slack.test/x",
		now:        func() time.Time { return time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC) },
		post: func(ctx context.Context, url string, msg *slack.WebhookMessage) error {
			got = msg
			return nil
		},
	}

	posts := []hypedb.Post{
		{ID: "1", Source: "github", Name: "a", URL: "https://x/a",
			RelevanceScore: sql.NullFloat64{Float64: 0.9, Valid: true},
			Summary:        sql.NullString{String: "sum", Valid: true},
			MatchedInterest: sql.NullString{String: "agents", Valid: true}},
		{ID: "2", Source: "reddit", Name: "b", URL: "https://x/b"},
	}
	if err := s.Send(t.Context(), posts, 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got == nil || got.Blocks == nil {
		t.Fatal("no webhook message captured")
	}
	// header + date + divider, then blocks per post.
	if n := len(got.Blocks.BlockSet); n < 6 {
		t.Errorf("got %d blocks, want header plus per-post blocks", n)
	}
	if got.Text == "" {
		t.Error("fallback text should be set")
	}

	// Continuation chunks skip the header.
	if err := s.Send(t.Context(), posts[1:], 1); err != nil {
		t.Fatal(err)
	}
	if first := got.Blocks.BlockSet[0]; first.BlockType() != slack.MBTSection {
		t.Errorf("continuation chunk starts with %s, want a section", first.BlockType())
	}
}
