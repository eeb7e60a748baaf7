package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"hypeseeker/internal/hypedb"
)

// slackChunk keeps each webhook message under Slack's 50-block limit: up to
// three blocks per post plus the digest header.
const slackChunk = 12

// Slack delivers digests through an incoming webhook using Block Kit.
type Slack struct {
	webhookURL string
	now        func() time.Time

	// post is swappable in tests.
	post func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

func NewSlack(webhookURL string) (*Slack, error) {
	if strings.TrimSpace(webhookURL) == "" {
		return nil, fmt.Errorf("slack webhook url is empty")
	}
	return &Slack{
		webhookURL: webhookURL,
		now:        time.Now,
		post:       slack.PostWebhookContext,
	}, nil
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) MaxChunk() int { return slackChunk }

func (s *Slack) Send(ctx context.Context, posts []hypedb.Post, offset int) error {
	var blocks []slack.Block
	if offset == 0 {
		blocks = append(blocks,
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "🔥 HypeSeeker Digest", true, false)),
			slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, s.now().Format("2006-01-02"), false, false)),
			slack.NewDividerBlock(),
		)
	}
	for i, p := range posts {
		blocks = append(blocks, slackPostBlocks(p, offset+i+1)...)
	}

	msg := &slack.WebhookMessage{
		Text:   fmt.Sprintf("HypeSeeker digest: %d posts", len(posts)),
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
	if err := s.post(ctx, s.webhookURL, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

func slackPostBlocks(p hypedb.Post, index int) []slack.Block {
	name := p.Name
	if strings.TrimSpace(name) == "" {
		name = p.ID
	}
	score := int(p.RelevanceScore.Float64 * 100)

	var body strings.Builder
	fmt.Fprintf(&body, "*%d. <%s|%s>* · %s · %d%%", index, p.URL, slackEscape(name), p.Source, score)
	if p.Summary.Valid && p.Summary.String != "" {
		fmt.Fprintf(&body, "\n%s", slackEscape(p.Summary.String))
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, body.String(), false, false), nil, nil),
	}
	var ctxParts []string
	if p.Relevance.Valid && p.Relevance.String != "" {
		ctxParts = append(ctxParts, slackEscape(p.Relevance.String))
	}
	if p.MatchedInterest.Valid && p.MatchedInterest.String != "" {
		ctxParts = append(ctxParts, "🏷 "+slackEscape(p.MatchedInterest.String))
	}
	if len(ctxParts) > 0 {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, strings.Join(ctxParts, " · "), false, false)))
	}
	blocks = append(blocks, slack.NewDividerBlock())
	return blocks
}

func slackEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
