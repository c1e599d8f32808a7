package intake

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-social-claims.git/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// Deduper remembers inbound message ids so webhook retries do not open a
// second claim.
type Deduper interface {
	// First reports whether this is the first sighting of the message.
	First(ctx context.Context, shopID, messageID string) (bool, error)
	// Forget lets the message be ingested again.
	Forget(ctx context.Context, shopID, messageID string) error
}

type RedisDeduper struct {
	rdb redis.Cmdable
}

func NewRedisDeduper(rdb redis.Cmdable) *RedisDeduper {
	return &RedisDeduper{rdb: rdb}
}

func (d *RedisDeduper) First(ctx context.Context, shopID, messageID string) (bool, error) {
	return redisx.Claim(ctx, d.rdb, fmt.Sprintf(redisx.KeyIngest, shopID, messageID), "1", redisx.TTLIngest)
}

func (d *RedisDeduper) Forget(ctx context.Context, shopID, messageID string) error {
	return d.rdb.Del(ctx, fmt.Sprintf(redisx.KeyIngest, shopID, messageID)).Err()
}
