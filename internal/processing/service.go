package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-social-claims.git/internal/claims"
	kafkax "github.com/ariefcatur/go-social-claims.git/internal/kafka"
	"github.com/ariefcatur/go-social-claims.git/internal/observability"
	"github.com/ariefcatur/go-social-claims.git/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type ClaimProcessor interface {
	Process(ctx context.Context, shopID, claimID string) (claims.Result, error)
}

// Service consumes ClaimReceived events and runs each claim through the
// processor.
type Service struct {
	Processor   ClaimProcessor
	Redis       redis.Cmdable // optional event dedup
	ServiceName string
	Log         *zap.Logger
}

// HandleClaimReceived is installed as the consumer handler. A nil return
// commits the offset.
func (s *Service) HandleClaimReceived(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.Header(m.Headers, kafkax.HeaderEventType); t != "" && t != claims.EventClaimReceived {
		return nil
	}

	// 1) decode envelope
	var env claims.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.Error("drop undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != claims.EventClaimReceived {
		return nil
	}

	// 2) dedup via Redis on event_id
	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if s.Redis != nil {
		first, err := redisx.Claim(ctx, s.Redis, dkey, "1", redisx.TTLDedup)
		if err == nil && !first {
			return nil
		}
	}

	// 3) decode payload
	p, err := kafkax.UnwrapPayload[claims.ClaimReceivedPayload](env.Payload)
	if err != nil {
		s.Log.Error("drop claim event with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	log := observability.WithTrace(ctx, s.Log.With(zap.String("claim_id", p.ClaimID), zap.String("event_id", env.EventID)))

	// 4) process; the processor skips claims that already left NEW
	_, err = s.Processor.Process(ctx, p.ShopID, p.ClaimID)
	if errors.Is(err, claims.ErrClaimNotFound) {
		log.Warn("claim vanished before processing")
		return nil
	}
	if err != nil {
		s.forget(ctx, dkey)
		return err
	}
	return nil
}

func (s *Service) forget(ctx context.Context, key string) {
	if s.Redis == nil {
		return
	}
	if err := s.Redis.Del(ctx, key).Err(); err != nil {
		s.Log.Warn("release dedup key", zap.String("key", key), zap.Error(err))
	}
}
