package hypedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is used for every timestamp column. RFC3339 UTC strings compare
// correctly with plain lexical ordering, which keeps the cutoff queries simple.
const timeFormat = time.RFC3339

// queryCap bounds any windowed query so result sets cannot grow without limit.
const queryCap = 500

// Post is a discovered piece of content from any source. Scoring and
// enrichment fields stay NULL until the respective pipeline stage fills them.
type Post struct {
	ID          string
	Source      string
	Username    string
	Name        string
	Stars       int64
	Description string
	URL         string
	CreatedAt   time.Time

	RelevanceScore  sql.NullFloat64
	MatchedInterest sql.NullString
	Summary         sql.NullString
	Relevance       sql.NullString
	ScoredAt        sql.NullTime
	InsertedAt      sql.NullTime
}

// Key identifies a post across re-fetches.
type Key struct {
	ID     string
	Source string
}

func (p Post) Key() Key { return Key{ID: p.ID, Source: p.Source} }

func Open(dbPath string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// Popularity shapes how raw stars/upvotes/runs from one source translate into
// a cross-source comparable number. Zero values mean identity.
type Popularity struct {
	Factor float64
	Power  float64
}

// Ranking holds the query-time moderation and ordering policy. It is
// evaluated on read, not at ingestion, so banned-term lists can change
// without re-ingesting anything.
type Ranking struct {
	Banned      []string
	BannedPairs [][2]string
	Popularity  map[string]Popularity
}

// DefaultRanking mirrors the built-in moderation list and per-source curves.
func DefaultRanking() Ranking {
	return Ranking{
		Banned:      []string{"nft", "crypto", "telegram", "clicker", "solana", "stealer"},
		BannedPairs: [][2]string{{"stake", "predict"}},
		Popularity: map[string]Popularity{
			"reddit":    {Factor: 0.3},
			"replicate": {Power: 0.6},
		},
	}
}

// Valid reports whether a post may appear in query results.
func (r Ranking) Valid(p Post) bool {
	if strings.TrimSpace(p.Username) == "" {
		return false
	}
	name := strings.ToLower(p.Name)
	desc := strings.ToLower(p.Description)
	for _, s := range r.Banned {
		if s == "" {
			continue
		}
		s = strings.ToLower(s)
		if strings.Contains(name, s) || strings.Contains(desc, s) {
			return false
		}
	}
	for _, pair := range r.BannedPairs {
		hay := name + " " + desc
		if strings.Contains(hay, strings.ToLower(pair[0])) && strings.Contains(hay, strings.ToLower(pair[1])) {
			return false
		}
	}
	return true
}

// Score computes the ranking value: the per-source popularity transform plus
// a large boost proportional to the LLM relevance score, so confirmed
// relevance dominates raw popularity once available.
func (r Ranking) Score(p Post) float64 {
	base := float64(p.Stars)
	if c, ok := r.Popularity[strings.ToLower(p.Source)]; ok {
		if c.Power > 0 {
			base = math.Pow(base, c.Power)
		}
		if c.Factor > 0 {
			base *= c.Factor
		}
	}
	if p.RelevanceScore.Valid {
		base += p.RelevanceScore.Float64 * 100
	}
	return base
}

func (r Ranking) filterAndRank(posts []Post) []Post {
	out := make([]Post, 0, len(posts))
	for _, p := range posts {
		if r.Valid(p) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return r.Score(out[i]) > r.Score(out[j])
	})
	return out
}

// UpsertPost inserts a post or merges it into the existing row. Mutable
// content fields (stars, description) always take the incoming value;
// scoring and enrichment fields only replace NULL, never regress a value
// that a previous run computed. This is the sole idempotency mechanism for
// re-fetching the same item across runs.
func UpsertPost(ctx context.Context, db *sql.DB, p Post) error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Source) == "" {
		return errors.New("missing id or source")
	}
	_, err := db.ExecContext(ctx, `INSERT INTO posts
        (id, source, username, name, stars, description, url, created_at,
         relevance_score, matched_interest, summary, relevance, scored_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id, source) DO UPDATE SET
           stars=excluded.stars,
           description=excluded.description,
           relevance_score=COALESCE(excluded.relevance_score, relevance_score),
           matched_interest=COALESCE(excluded.matched_interest, matched_interest),
           summary=COALESCE(excluded.summary, summary),
           relevance=COALESCE(excluded.relevance, relevance),
           scored_at=COALESCE(excluded.scored_at, scored_at)
        `,
		p.ID, strings.ToLower(p.Source), p.Username, p.Name, p.Stars, p.Description, p.URL,
		p.CreatedAt.UTC().Format(timeFormat),
		p.RelevanceScore, p.MatchedInterest, p.Summary, p.Relevance, nullTime(p.ScoredAt),
	)
	return err
}

const postColumns = `id, source, username, name, stars, description, url, created_at,
relevance_score, matched_interest, summary, relevance, scored_at, inserted_at`

func scanPosts(rows *sql.Rows) ([]Post, error) {
	var out []Post
	for rows.Next() {
		var (
			p                              Post
			createdAt, scoredAt, insertedAt sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Source, &p.Username, &p.Name, &p.Stars,
			&p.Description, &p.URL, &createdAt,
			&p.RelevanceScore, &p.MatchedInterest, &p.Summary, &p.Relevance,
			&scoredAt, &insertedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(createdAt.String)
		p.ScoredAt = parseNullTime(scoredAt)
		p.InsertedAt = parseNullTime(insertedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Query returns valid posts created within the window, ranked by the
// popularity transform, capped at the query limit. An empty sources list
// means all sources.
func Query(ctx context.Context, db *sql.DB, r Ranking, window time.Duration, sources []string) ([]Post, error) {
	sourceFilter := ""
	args := make([]any, 0, len(sources)+1)
	if len(sources) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sources)), ",")
		sourceFilter = fmt.Sprintf("source IN (%s) AND ", placeholders)
		for _, s := range sources {
			args = append(args, strings.ToLower(s))
		}
	}
	args = append(args, cutoff(window))

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM posts
        WHERE %screated_at > ?
        ORDER BY stars DESC LIMIT %d`, postColumns, sourceFilter, queryCap), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, err
	}
	return r.filterAndRank(posts), nil
}

// GetUnscored returns valid posts with no relevance score yet, created within
// the trailing week. Older unscored posts are deliberately left behind; this
// is a stale-item cutoff, not a retry queue.
func GetUnscored(ctx context.Context, db *sql.DB, r Ranking, limit int) ([]Post, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM posts
        WHERE relevance_score IS NULL AND created_at > ?
        ORDER BY stars DESC LIMIT ?`, postColumns),
		cutoff(7*24*time.Hour), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, err
	}
	return r.filterAndRank(posts), nil
}

// GetTopScored returns valid high-scoring posts that still lack a summary.
func GetTopScored(ctx context.Context, db *sql.DB, r Ranking, minScore float64, limit int) ([]Post, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM posts
        WHERE relevance_score >= ? AND summary IS NULL
        ORDER BY relevance_score DESC, stars DESC LIMIT ?`, postColumns),
		minScore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, err
	}
	out := posts[:0]
	for _, p := range posts {
		if r.Valid(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetUnsent returns valid scored posts above the threshold that have not been
// sent on the given channel and were created within the recency window. The
// window is intentionally narrower than the scoring window so re-discovered
// old posts never surface in a digest.
func GetUnsent(ctx context.Context, db *sql.DB, r Ranking, channel string, minScore float64, window time.Duration) ([]Post, error) {
	col, err := sentColumn(channel)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM posts
        WHERE relevance_score >= ? AND %s IS NULL AND created_at > ?
        ORDER BY relevance_score DESC, stars DESC LIMIT %d`, postColumns, col, queryCap),
		minScore, cutoff(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, err
	}
	out := posts[:0]
	for _, p := range posts {
		if r.Valid(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// MarkSent stamps the channel marker for each post. It must be called only
// after the channel send succeeded. Marking an already-marked post keeps the
// earlier timestamp, so repeated calls are harmless.
func MarkSent(ctx context.Context, db *sql.DB, channel string, keys []Key, at time.Time) error {
	col, err := sentColumn(channel)
	if err != nil {
		return err
	}
	stamp := at.UTC().Format(timeFormat)
	q := fmt.Sprintf(`UPDATE posts SET %s = ? WHERE id = ? AND source = ? AND %s IS NULL`, col, col)
	for _, k := range keys {
		if _, err := db.ExecContext(ctx, q, stamp, k.ID, strings.ToLower(k.Source)); err != nil {
			return fmt.Errorf("mark sent %s/%s: %w", k.Source, k.ID, err)
		}
	}
	return nil
}

// UpdateScore records the scoring result for a post.
func UpdateScore(ctx context.Context, db *sql.DB, id, source string, score float64, matchedInterest string) error {
	var matched sql.NullString
	if strings.TrimSpace(matchedInterest) != "" {
		matched = sql.NullString{String: matchedInterest, Valid: true}
	}
	_, err := db.ExecContext(ctx, `UPDATE posts
        SET relevance_score = ?, matched_interest = ?, scored_at = ?
        WHERE id = ? AND source = ?`,
		score, matched, time.Now().UTC().Format(timeFormat), id, strings.ToLower(source))
	return err
}

// UpdateEnrichment records the summary and relevance explanation for a post.
func UpdateEnrichment(ctx context.Context, db *sql.DB, id, source, summary, relevance string) error {
	_, err := db.ExecContext(ctx, `UPDATE posts
        SET summary = ?, relevance = ?
        WHERE id = ? AND source = ?`,
		summary, relevance, id, strings.ToLower(source))
	return err
}

// LastUpdated returns the most recent insertion time, or the zero time for an
// empty table.
func LastUpdated(ctx context.Context, db *sql.DB) (time.Time, error) {
	var raw sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT MAX(inserted_at) FROM posts`).Scan(&raw); err != nil {
		return time.Time{}, err
	}
	if !raw.Valid {
		return time.Time{}, nil
	}
	return parseTime(raw.String), nil
}

func cutoff(window time.Duration) string {
	return time.Now().Add(-window).UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeFormat, s); err == nil {
		return t
	}
	// inserted_at uses SQLite's CURRENT_TIMESTAMP format
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func parseNullTime(s sql.NullString) sql.NullTime {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return sql.NullTime{}
	}
	t := parseTime(s.String)
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullTime(t sql.NullTime) any {
	if !t.Valid {
		return nil
	}
	return t.Time.UTC().Format(timeFormat)
}
