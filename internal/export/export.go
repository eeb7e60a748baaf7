package export

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hypeseeker/internal/hypedb"
)

const exportWindow = 7 * 24 * time.Hour

// Run writes the past week's ranked posts to date-stamped markdown and CSV
// files under dir. Returns the paths written.
func Run(ctx context.Context, db *sql.DB, ranking hypedb.Ranking, dir string, logger *log.Logger) ([]string, error) {
	posts, err := hypedb.Query(ctx, db, ranking, exportWindow, nil)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	stamp := time.Now().Format("2006-01-02")
	mdPath := filepath.Join(dir, "digest-"+stamp+".md")
	csvPath := filepath.Join(dir, "digest-"+stamp+".csv")

	if err := writeMarkdown(mdPath, posts); err != nil {
		return nil, err
	}
	if err := writeCSV(csvPath, posts); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Printf("exported %d posts to %s and %s", len(posts), mdPath, csvPath)
	}
	return []string{mdPath, csvPath}, nil
}

func writeMarkdown(path string, posts []hypedb.Post) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# HypeSeeker Digest — %s\n\n", time.Now().Format("2006-01-02"))
	if len(posts) == 0 {
		b.WriteString("No posts this week.\n")
	}
	for i, p := range posts {
		name := p.Name
		if strings.TrimSpace(name) == "" {
			name = p.ID
		}
		fmt.Fprintf(&b, "## %d. [%s](%s)\n\n", i+1, name, p.URL)
		fmt.Fprintf(&b, "- Source: %s\n- Stars: %d\n", p.Source, p.Stars)
		if p.RelevanceScore.Valid {
			fmt.Fprintf(&b, "- Relevance: %d%%", int(p.RelevanceScore.Float64*100))
			if p.MatchedInterest.Valid && p.MatchedInterest.String != "" {
				fmt.Fprintf(&b, " (%s)", p.MatchedInterest.String)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		if p.Summary.Valid && p.Summary.String != "" {
			fmt.Fprintf(&b, "%s\n\n", p.Summary.String)
		} else if p.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", p.Description)
		}
		if p.Relevance.Valid && p.Relevance.String != "" {
			fmt.Fprintf(&b, "> %s\n\n", p.Relevance.String)
		}
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeCSV(path string, posts []hypedb.Post) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "source", "name", "username", "stars", "url", "created_at", "relevance_score", "matched_interest", "summary"}); err != nil {
		f.Close()
		return err
	}
	for _, p := range posts {
		score := ""
		if p.RelevanceScore.Valid {
			score = strconv.FormatFloat(p.RelevanceScore.Float64, 'f', 2, 64)
		}
		rec := []string{
			p.ID, p.Source, p.Name, p.Username,
			strconv.FormatInt(p.Stars, 10), p.URL,
			p.CreatedAt.UTC().Format(time.RFC3339),
			score,
			p.MatchedInterest.String,
			p.Summary.String,
		}
		if err := w.Write(rec); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
