package hypedb

import (
	"database/sql"
	"fmt"
	"regexp"
)

// InitSchema ensures the posts table exists and carries a sent-marker column
// for each configured notification channel. Schema changes are strictly
// additive: new columns are added with ALTER TABLE, existing columns are
// never dropped or retyped.
func InitSchema(db *sql.DB, channels ...string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posts (
            id TEXT NOT NULL,
            source TEXT NOT NULL,
            username TEXT,
            name TEXT,
            stars INTEGER DEFAULT 0,
            description TEXT,
            url TEXT,
            created_at TEXT NOT NULL,
            relevance_score REAL,
            matched_interest TEXT,
            summary TEXT,
            relevance TEXT,
            scored_at TEXT,
            inserted_at TEXT DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (id, source)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_relevance ON posts(relevance_score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_source ON posts(source)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	for _, ch := range channels {
		if err := EnsureChannelColumn(db, ch); err != nil {
			return err
		}
	}
	return nil
}

var channelNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// EnsureChannelColumn adds the per-channel "sent at" column when missing,
// so new channels can be configured without a destructive migration.
func EnsureChannelColumn(db *sql.DB, channel string) error {
	col, err := sentColumn(channel)
	if err != nil {
		return err
	}
	exists, err := hasColumn(db, "posts", col)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf(`ALTER TABLE posts ADD COLUMN %s TEXT`, col))
	return err
}

// sentColumn maps a channel name to its marker column. Channel names are
// restricted to a safe identifier charset because the column name is
// interpolated into SQL.
func sentColumn(channel string) (string, error) {
	if !channelNameRe.MatchString(channel) {
		return "", fmt.Errorf("invalid channel name %q", channel)
	}
	return "sent_to_" + channel + "_at", nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
