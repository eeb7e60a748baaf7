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

// HuggingFace lists recently popular models from the hub API.
type HuggingFace struct {
	client  *httpclient.Client
	cfg     config.HuggingFaceConfig
	baseURL string
}

func NewHuggingFace(client *httpclient.Client, cfg config.HuggingFaceConfig) *HuggingFace {
	return &HuggingFace{client: client, cfg: cfg, baseURL: "https://huggingface.co"}
}

func (h *HuggingFace) Name() string { return "huggingface" }

type hfModel struct {
	ID        string    `json:"id"`
	Likes     int64     `json:"likes"`
	Downloads int64     `json:"downloads"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *HuggingFace) Fetch(ctx context.Context) ([]hypedb.Post, error) {
	endpoint := fmt.Sprintf("%s/api/models?sort=likes&direction=-1&limit=100", h.baseURL)
	var models []hfModel
	if err := h.client.GetJSON(ctx, endpoint, nil, &models); err != nil {
		return nil, fmt.Errorf("huggingface models: %w", err)
	}

	var posts []hypedb.Post
	for _, m := range models {
		if int(m.Likes) < h.cfg.MinLikes || int(m.Downloads) < h.cfg.MinDownloads {
			continue
		}
		username, name := splitModelID(m.ID)
		posts = append(posts, hypedb.Post{
			ID:          m.ID,
			Source:      "huggingface",
			Username:    username,
			Name:        name,
			Stars:       m.Likes,
			Description: fmt.Sprintf("%d downloads", m.Downloads),
			URL:         h.baseURL + "/" + m.ID,
			CreatedAt:   m.CreatedAt,
		})
	}
	return posts, nil
}

func splitModelID(id string) (owner, name string) {
	if i := strings.IndexByte(id, '/'); i >= 0 {
		return id[:i], id[i+1:]
	}
	return id, id
}
