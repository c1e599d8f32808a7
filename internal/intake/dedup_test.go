package intake

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setNXRecorder answers SETNX from a map and records the TTL used.
type setNXRecorder struct {
	redis.Cmdable
	vals map[string]string
	ttls map[string]time.Duration
}

func (s *setNXRecorder) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	if _, ok := s.vals[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	s.vals[key] = value.(string)
	s.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (s *setNXRecorder) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(s.vals, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestRedisDeduper(t *testing.T) {
	rdb := &setNXRecorder{vals: map[string]string{}, ttls: map[string]time.Duration{}}
	d := NewRedisDeduper(rdb)
	ctx := context.Background()

	first, err := d.First(ctx, "shop-1", "mid-1")
	if err != nil || !first {
		t.Fatalf("first sighting = %v, %v", first, err)
	}
	const key = "ingest:shop-1:mid-1"
	if rdb.vals[key] != "1" {
		t.Fatalf("marker = %q", rdb.vals[key])
	}
	if rdb.ttls[key] != 48*time.Hour {
		t.Fatalf("ttl = %v, want 48h", rdb.ttls[key])
	}
	if again, _ := d.First(ctx, "shop-1", "mid-1"); again {
		t.Fatal("retry reported as first sighting")
	}
	if first, _ := d.First(ctx, "shop-2", "mid-1"); !first {
		t.Fatal("message ids are scoped per shop")
	}

	if err := d.Forget(ctx, "shop-1", "mid-1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if first, _ := d.First(ctx, "shop-1", "mid-1"); !first {
		t.Fatal("forgotten message not ingestible again")
	}
}
