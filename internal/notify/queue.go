package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atelier-ec/newsletter/internal/domain"
)

// Queue is the Redis-backed handoff between the catalog trigger endpoints and
// the dispatch worker. Producers enqueue and return immediately; delivery
// happens out of band.
type Queue struct {
	rdb *redis.Client
	key string
}

// NewQueue creates a queue on the given Redis list key.
func NewQueue(rdb *redis.Client, key string) *Queue {
	if key == "" {
		key = "newsletter:notify"
	}
	return &Queue{rdb: rdb, key: key}
}

// Enqueue pushes an event onto the queue.
func (q *Queue) Enqueue(ctx context.Context, event domain.CatalogEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next event. It returns (nil, nil)
// when the timeout elapses with an empty queue.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.CatalogEvent, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue event: %w", err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("dequeue event: unexpected reply length %d", len(res))
	}

	var event domain.CatalogEvent
	if err := json.Unmarshal([]byte(res[1]), &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &event, nil
}

// Len returns the number of queued events.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
