package fetch

import (
	"context"
	"fmt"
	"time"

	"hypeseeker/internal/config"
	"hypeseeker/internal/httpclient"
	"hypeseeker/internal/hypedb"
)

// Replicate lists public models from the Replicate API, keeping the ones
// with enough runs to signal traction.
type Replicate struct {
	client  *httpclient.Client
	cfg     config.ReplicateConfig
	token   string
	baseURL string
}

func NewReplicate(client *httpclient.Client, cfg config.ReplicateConfig, token string) *Replicate {
	return &Replicate{client: client, cfg: cfg, token: token, baseURL: "https://api.replicate.com"}
}

func (r *Replicate) Name() string { return "replicate" }

type replicateListing struct {
	Results []struct {
		Owner         string `json:"owner"`
		Name          string `json:"name"`
		Description   string `json:"description"`
		URL           string `json:"url"`
		RunCount      int64  `json:"run_count"`
		LatestVersion struct {
			CreatedAt time.Time `json:"created_at"`
		} `json:"latest_version"`
	} `json:"results"`
}

func (r *Replicate) Fetch(ctx context.Context) ([]hypedb.Post, error) {
	endpoint := r.baseURL + "/v1/models"
	headers := map[string]string{"Authorization": "Token " + r.token}
	var listing replicateListing
	if err := r.client.GetJSON(ctx, endpoint, headers, &listing); err != nil {
		return nil, fmt.Errorf("replicate models: %w", err)
	}

	var posts []hypedb.Post
	for _, m := range listing.Results {
		if int(m.RunCount) < r.cfg.MinRuns {
			continue
		}
		posts = append(posts, hypedb.Post{
			ID:          m.Owner + "/" + m.Name,
			Source:      "replicate",
			Username:    m.Owner,
			Name:        m.Name,
			Stars:       m.RunCount,
			Description: m.Description,
			URL:         m.URL,
			CreatedAt:   m.LatestVersion.CreatedAt,
		})
	}
	return posts, nil
}
