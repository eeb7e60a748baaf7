package notify

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"hypeseeker/internal/hypedb"
)

// Channel is a notification destination. Payload formatting and size limits
// are the channel's concern; the dispatcher only needs to know how many
// posts fit in one message.
type Channel interface {
	Name() string
	// MaxChunk is the maximum number of posts per message.
	MaxChunk() int
	// Send delivers one chunk. offset is the zero-based position of the
	// first post within the whole digest, for stable numbering across
	// chunks.
	Send(ctx context.Context, posts []hypedb.Post, offset int) error
}

// Dispatcher selects unsent high-scoring recent posts and delivers them per
// channel. Marking happens only after every chunk for a channel succeeded,
// so a partial send leaves all posts unmarked and the next run retries the
// full digest.
type Dispatcher struct {
	DB         *sql.DB
	Ranking    hypedb.Ranking
	MinScore   float64
	Window     time.Duration
	ChunkDelay time.Duration
	Logger     *log.Logger
	Now        func() time.Time
}

// Dispatch runs every channel independently: one failing channel never
// blocks the others. Returns the number of posts marked sent per channel.
func (d *Dispatcher) Dispatch(ctx context.Context, channels []Channel) map[string]int {
	sent := make(map[string]int, len(channels))
	for _, ch := range channels {
		n, err := d.dispatchChannel(ctx, ch)
		if err != nil && d.Logger != nil {
			d.Logger.Printf("digest failed: channel=%s err=%v", ch.Name(), err)
		}
		sent[ch.Name()] = n
	}
	return sent
}

func (d *Dispatcher) dispatchChannel(ctx context.Context, ch Channel) (int, error) {
	posts, err := hypedb.GetUnsent(ctx, d.DB, d.Ranking, ch.Name(), d.MinScore, d.Window)
	if err != nil {
		return 0, fmt.Errorf("load unsent: %w", err)
	}
	if len(posts) == 0 {
		if d.Logger != nil {
			d.Logger.Printf("no new posts for channel=%s", ch.Name())
		}
		return 0, nil
	}

	maxChunk := ch.MaxChunk()
	if maxChunk <= 0 {
		maxChunk = len(posts)
	}
	for offset := 0; offset < len(posts); offset += maxChunk {
		end := offset + maxChunk
		if end > len(posts) {
			end = len(posts)
		}
		if err := ch.Send(ctx, posts[offset:end], offset); err != nil {
			return 0, fmt.Errorf("send chunk at %d of %d posts: %w", offset, len(posts), err)
		}
		if end < len(posts) && d.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(d.ChunkDelay):
			}
		}
	}

	keys := make([]hypedb.Key, len(posts))
	for i, p := range posts {
		keys[i] = p.Key()
	}
	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}
	if err := hypedb.MarkSent(ctx, d.DB, ch.Name(), keys, now); err != nil {
		return 0, fmt.Errorf("mark sent: %w", err)
	}
	if d.Logger != nil {
		d.Logger.Printf("sent digest: channel=%s posts=%d", ch.Name(), len(posts))
	}
	return len(posts), nil
}
