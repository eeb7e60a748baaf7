package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hypeseeker/internal/config"
	"hypeseeker/internal/httpclient"
	"hypeseeker/internal/hypedb"
)

// Reddit pulls the past week's top submissions from each configured
// subreddit via the public JSON listings.
type Reddit struct {
	client  *httpclient.Client
	cfg     config.RedditConfig
	baseURL string
}

func NewReddit(client *httpclient.Client, cfg config.RedditConfig) *Reddit {
	return &Reddit{client: client, cfg: cfg, baseURL: "https://www.reddit.com"}
}

func (r *Reddit) Name() string { return "reddit" }

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID            string  `json:"id"`
				Author        string  `json:"author"`
				Title         string  `json:"title"`
				Selftext      string  `json:"selftext"`
				Score         int64   `json:"score"`
				Permalink     string  `json:"permalink"`
				LinkFlairText string  `json:"link_flair_text"`
				CreatedUTC    float64 `json:"created_utc"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (r *Reddit) Fetch(ctx context.Context) ([]hypedb.Post, error) {
	var posts []hypedb.Post
	var failed []string
	for _, sub := range r.cfg.Subreddits {
		sub = strings.TrimSpace(sub)
		if sub == "" {
			continue
		}
		listing, err := r.fetchSubreddit(ctx, sub)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", sub, err))
			continue
		}
		posts = append(posts, listing...)
	}
	if len(posts) == 0 && len(failed) > 0 {
		return nil, fmt.Errorf("all subreddits failed: %s", strings.Join(failed, "; "))
	}
	return posts, nil
}

func (r *Reddit) fetchSubreddit(ctx context.Context, sub string) ([]hypedb.Post, error) {
	endpoint := fmt.Sprintf("%s/r/%s/top.json?t=week&limit=100", r.baseURL, sub)
	var listing redditListing
	if err := r.client.GetJSON(ctx, endpoint, nil, &listing); err != nil {
		return nil, err
	}

	allowedFlairs := r.cfg.FlairFilters[sub]
	var posts []hypedb.Post
	for _, child := range listing.Data.Children {
		d := child.Data
		if int(d.Score) < r.cfg.MinScore {
			continue
		}
		if len(allowedFlairs) > 0 && !flairAllowed(d.LinkFlairText, allowedFlairs) {
			continue
		}
		posts = append(posts, hypedb.Post{
			ID:          d.ID,
			Source:      "reddit",
			Username:    d.Author,
			Name:        d.Title,
			Stars:       d.Score,
			Description: d.Selftext,
			URL:         r.baseURL + d.Permalink,
			CreatedAt:   time.Unix(int64(d.CreatedUTC), 0).UTC(),
		})
	}
	return posts, nil
}

func flairAllowed(flair string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(flair), strings.TrimSpace(a)) {
			return true
		}
	}
	return false
}
