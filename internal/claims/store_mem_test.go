package claims

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is a transactional in-memory Store. A failing unit of work rolls
// back claims and reservations.
type memStore struct {
	mu           sync.Mutex
	shops        map[string]Shop
	campaigns    map[string]Campaign
	rules        []MappingRule
	claims       map[string]Claim
	reservations map[string]Reservation
}

func newMemStore() *memStore {
	return &memStore{
		shops:        map[string]Shop{},
		campaigns:    map[string]Campaign{},
		claims:       map[string]Claim{},
		reservations: map[string]Reservation{},
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	claims := make(map[string]Claim, len(s.claims))
	for k, v := range s.claims {
		claims[k] = v
	}
	reservations := make(map[string]Reservation, len(s.reservations))
	for k, v := range s.reservations {
		reservations[k] = v
	}
	if err := fn(memTx{s}); err != nil {
		s.claims, s.reservations = claims, reservations
		return err
	}
	return nil
}

func (s *memStore) claim(id string) Claim {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims[id]
}

func (s *memStore) reservationsFor(claimID string) []Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reservation
	for _, r := range s.reservations {
		if r.ClaimID == claimID {
			out = append(out, r)
		}
	}
	return out
}

type memTx struct{ s *memStore }

func (t memTx) ClaimForUpdate(_ context.Context, shopID, claimID string) (*Claim, error) {
	c, ok := t.s.claims[claimID]
	if !ok || c.ShopID != shopID {
		return nil, ErrClaimNotFound
	}
	return &c, nil
}

func (t memTx) UpdateClaim(_ context.Context, c *Claim) error {
	if _, ok := t.s.claims[c.ID]; !ok {
		return ErrClaimNotFound
	}
	t.s.claims[c.ID] = *c
	return nil
}

func (t memTx) Shop(_ context.Context, shopID string) (*Shop, error) {
	s, ok := t.s.shops[shopID]
	if !ok {
		return nil, ErrShopNotFound
	}
	return &s, nil
}

func (t memTx) Campaign(_ context.Context, shopID, campaignID string) (*Campaign, error) {
	c, ok := t.s.campaigns[campaignID]
	if !ok || c.ShopID != shopID {
		return nil, ErrCampaignNotFound
	}
	return &c, nil
}

func (t memTx) MappingRules(_ context.Context, _ string, campaignID string) ([]MappingRule, error) {
	var out []MappingRule
	for _, r := range t.s.rules {
		if r.CampaignID == campaignID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t memTx) InsertReservation(_ context.Context, r *Reservation) (bool, error) {
	for _, existing := range t.s.reservations {
		if existing.ClaimID == r.ClaimID {
			return false, nil
		}
	}
	t.s.reservations[r.ID] = *r
	return true, nil
}

func (t memTx) ExpiredReservations(_ context.Context, now time.Time, limit int) ([]Reservation, error) {
	var out []Reservation
	for _, r := range t.s.reservations {
		if !r.Released && r.ExpiresAt.Before(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t memTx) ReleaseReservation(_ context.Context, shopID, id string) error {
	r, ok := t.s.reservations[id]
	if !ok || r.ShopID != shopID {
		return nil
	}
	r.Released = true
	t.s.reservations[id] = r
	return nil
}
