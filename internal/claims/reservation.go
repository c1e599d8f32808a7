package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sweepBatchSize = 500

var ErrAlreadyReserved = errors.New("claim already has a reservation")

// ReservationManager creates holds on a variant and releases them once they
// expire. Holds are never extended or recreated for the same claim.
type ReservationManager struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
	batch int
}

func NewReservationManager(store Store, log *zap.Logger) *ReservationManager {
	return &ReservationManager{
		store: store,
		log:   log.Named("reservations"),
		now:   time.Now,
		batch: sweepBatchSize,
	}
}

// WithClock swaps the time source, used by tests.
func (m *ReservationManager) WithClock(now func() time.Time) *ReservationManager {
	m.now = now
	return m
}

// Reserve persists a new unreleased hold inside the caller's transaction.
func (m *ReservationManager) Reserve(ctx context.Context, tx Tx, shopID, claimID, variantID string, qty, holdMinutes int) (*Reservation, error) {
	if holdMinutes <= 0 {
		holdMinutes = DefaultHoldMinutes
	}
	if qty < 1 {
		qty = 1
	}
	now := m.now().UTC()
	r := &Reservation{
		ID:        uuid.NewString(),
		ShopID:    shopID,
		ClaimID:   claimID,
		VariantID: variantID,
		Qty:       qty,
		ExpiresAt: now.Add(time.Duration(holdMinutes) * time.Minute),
		CreatedAt: now,
	}
	inserted, err := tx.InsertReservation(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	if !inserted {
		return nil, ErrAlreadyReserved
	}
	return r, nil
}

type SweepResult struct {
	Released int
	Expired  []Claim
}

// SweepExpired releases every unreleased hold past its expiry and moves the
// owning claim to EXPIRED. Holds are taken in batches, one transaction per
// batch, until a batch comes back short. On error the result still carries
// what earlier batches committed.
func (m *ReservationManager) SweepExpired(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	for {
		batch, n, err := m.sweepBatch(ctx)
		if err != nil {
			return res, err
		}
		res.Released += batch.Released
		res.Expired = append(res.Expired, batch.Expired...)
		if n < m.batch {
			return res, nil
		}
	}
}

// sweepBatch handles one batch of expired holds and reports how many were
// selected.
func (m *ReservationManager) sweepBatch(ctx context.Context) (SweepResult, int, error) {
	var (
		res      SweepResult
		selected int
	)
	err := m.store.WithinTx(ctx, func(tx Tx) error {
		res, selected = SweepResult{}, 0
		now := m.now().UTC()
		rs, err := tx.ExpiredReservations(ctx, now, m.batch)
		if err != nil {
			return fmt.Errorf("select expired reservations: %w", err)
		}
		selected = len(rs)
		for _, r := range rs {
			if err := tx.ReleaseReservation(ctx, r.ShopID, r.ID); err != nil {
				return fmt.Errorf("release reservation %s: %w", r.ID, err)
			}
			res.Released++
			c, err := tx.ClaimForUpdate(ctx, r.ShopID, r.ClaimID)
			if errors.Is(err, ErrClaimNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := c.Transition(StatusExpired); err != nil {
				// already paid or canceled: the hold is gone, the claim stays
				m.log.Debug("claim not expirable",
					zap.String("claim_id", c.ID), zap.String("status", string(c.Status)))
				continue
			}
			if err := tx.UpdateClaim(ctx, c); err != nil {
				return fmt.Errorf("expire claim %s: %w", c.ID, err)
			}
			res.Expired = append(res.Expired, *c)
		}
		return nil
	})
	if err != nil {
		return SweepResult{}, 0, err
	}
	return res, selected, nil
}
