package expiry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-social-claims.git/internal/claims"
	kafkax "github.com/ariefcatur/go-social-claims.git/internal/kafka"
	"github.com/ariefcatur/go-social-claims.git/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const DefaultInterval = 60 * time.Second

var ErrSweepInProgress = errors.New("expiry sweep already running")

// Reservations is satisfied by *claims.ReservationManager.
type Reservations interface {
	SweepExpired(ctx context.Context) (claims.SweepResult, error)
}

// Locker guards a sweep across processes. ok is false when another holder
// owns the lock.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(context.Context) error, ok bool, err error)
}

type RedisLocker struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisLocker(rdb redis.Cmdable) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: redisx.TTLSweepLock}
}

func (l *RedisLocker) TryLock(ctx context.Context) (func(context.Context) error, bool, error) {
	lock, err := redisx.TryLock(ctx, l.rdb, redisx.KeySweepLock, uuid.NewString(), l.ttl)
	if err != nil || lock == nil {
		return nil, false, err
	}
	return lock.Unlock, true, nil
}

type Config struct {
	Interval    time.Duration
	ServiceName string
}

// Sweeper runs the reservation expiry sweep on a fixed interval.
type Sweeper struct {
	reservations Reservations
	locker       Locker           // optional
	events       claims.Publisher // optional
	log          *zap.Logger
	tracer       trace.Tracer
	cfg          Config

	running sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(r Reservations, locker Locker, events claims.Publisher, log *zap.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Sweeper{
		reservations: r,
		locker:       locker,
		events:       events,
		log:          log.Named("expiry"),
		tracer:       otel.Tracer("expiry"),
		cfg:          cfg,
	}
}

// Start launches the ticker goroutine. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.log.Info("expiry sweeper started", zap.Duration("interval", s.cfg.Interval))
}

// Stop cancels the loop and waits for an in-flight tick to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("expiry sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("expiry sweep panicked", zap.Any("panic", r))
		}
	}()
	res, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrSweepInProgress):
		s.log.Debug("previous sweep still running, tick skipped")
	case err != nil:
		s.log.Error("expiry sweep failed", zap.Error(err))
	case res.Released > 0:
		s.log.Info("expired reservations released",
			zap.Int("released", res.Released),
			zap.Int("claims_expired", len(res.Expired)),
		)
	}
}

// RunOnce performs a single sweep. It returns ErrSweepInProgress when a sweep
// is already running in this process and an empty result when another
// process holds the fleet lock.
func (s *Sweeper) RunOnce(ctx context.Context) (claims.SweepResult, error) {
	if !s.running.TryLock() {
		return claims.SweepResult{}, ErrSweepInProgress
	}
	defer s.running.Unlock()

	ctx, span := s.tracer.Start(ctx, "expiry.sweep")
	defer span.End()

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sweep lock")
			return claims.SweepResult{}, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			span.SetAttributes(attribute.Bool("sweep.lock_held_elsewhere", true))
			return claims.SweepResult{}, nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("release sweep lock", zap.Error(err))
			}
		}()
	}

	res, err := s.reservations.SweepExpired(ctx)
	span.SetAttributes(
		attribute.Int("sweep.released", res.Released),
		attribute.Int("sweep.expired", len(res.Expired)),
	)
	// batches committed before a failure still announce their expiries
	for _, c := range res.Expired {
		s.publish(ctx, c)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep")
		return res, err
	}
	return res, nil
}

func (s *Sweeper) publish(ctx context.Context, c claims.Claim) {
	if s.events == nil {
		return
	}
	b, err := claims.EncodeStatusChanged(ctx, s.cfg.ServiceName, c)
	if err != nil {
		s.log.Error("encode expired event", zap.String("claim_id", c.ID), zap.Error(err))
		return
	}
	s.events.Publish(claims.PartitionKey(c.ID), b, kafkax.EventHeaders(ctx, claims.EventClaimStatusChanged, 1)...)
}
