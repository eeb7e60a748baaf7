package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"hypeseeker/internal/config"
	"hypeseeker/internal/httpclient"
	"hypeseeker/internal/hypedb"
)

// GitHub discovers repositories created in the past week with enough stars,
// via the search API, most-starred first.
type GitHub struct {
	client  *httpclient.Client
	cfg     config.GitHubConfig
	token   string
	baseURL string
}

func NewGitHub(client *httpclient.Client, cfg config.GitHubConfig, token string) *GitHub {
	return &GitHub{client: client, cfg: cfg, token: token, baseURL: "https://api.github.com"}
}

func (g *GitHub) Name() string { return "github" }

type githubSearchResponse struct {
	Items []struct {
		ID    int64 `json:"id"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
		Name            string    `json:"name"`
		FullName        string    `json:"full_name"`
		Description     string    `json:"description"`
		StargazersCount int64     `json:"stargazers_count"`
		HTMLURL         string    `json:"html_url"`
		CreatedAt       time.Time `json:"created_at"`
	} `json:"items"`
}

func (g *GitHub) Fetch(ctx context.Context) ([]hypedb.Post, error) {
	since := time.Now().AddDate(0, 0, -7).Format("2006-01-02")
	minStars := g.cfg.MinStars
	if minStars <= 0 {
		minStars = 50
	}
	q := fmt.Sprintf("created:>%s stars:>%d", since, minStars)
	endpoint := fmt.Sprintf("%s/search/repositories?q=%s&sort=stars&order=desc&per_page=100",
		g.baseURL, url.QueryEscape(q))

	headers := map[string]string{"Accept": "application/vnd.github+json"}
	if g.token != "" {
		headers["Authorization"] = "Bearer " + g.token
	}

	var resp githubSearchResponse
	if err := g.client.GetJSON(ctx, endpoint, headers, &resp); err != nil {
		return nil, fmt.Errorf("github search: %w", err)
	}

	posts := make([]hypedb.Post, 0, len(resp.Items))
	for _, it := range resp.Items {
		posts = append(posts, hypedb.Post{
			ID:          strconv.FormatInt(it.ID, 10),
			Source:      "github",
			Username:    it.Owner.Login,
			Name:        it.Name,
			Stars:       it.StargazersCount,
			Description: it.Description,
			URL:         it.HTMLURL,
			CreatedAt:   it.CreatedAt,
		})
	}
	return posts, nil
}
