package intake

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-social-claims.git/internal/claims"
	lru "github.com/hashicorp/golang-lru"
)

const (
	directorySize = 1024
	directoryTTL  = 5 * time.Minute
)

type ShopLookup interface {
	ShopByIGAccount(ctx context.Context, igAccountID string) (*claims.Shop, error)
}

type cachedShop struct {
	shop     claims.Shop
	cachedAt time.Time
}

// ShopDirectory resolves the shop behind an IG business account, keeping
// recent answers in memory. Misses are not cached.
type ShopDirectory struct {
	lookup ShopLookup
	cache  *lru.Cache
	ttl    time.Duration
	now    func() time.Time

	mu sync.Mutex // serialises refills
}

func NewShopDirectory(lookup ShopLookup) *ShopDirectory {
	cache, _ := lru.New(directorySize)
	return &ShopDirectory{lookup: lookup, cache: cache, ttl: directoryTTL, now: time.Now}
}

func (d *ShopDirectory) Shop(ctx context.Context, igAccountID string) (claims.Shop, error) {
	if v, ok := d.cache.Get(igAccountID); ok {
		e := v.(cachedShop)
		if d.now().Sub(e.cachedAt) < d.ttl {
			return e.shop, nil
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := d.cache.Get(igAccountID); ok {
		e := v.(cachedShop)
		if d.now().Sub(e.cachedAt) < d.ttl {
			return e.shop, nil
		}
	}
	shop, err := d.lookup.ShopByIGAccount(ctx, igAccountID)
	if err != nil {
		return claims.Shop{}, err
	}
	d.cache.Add(igAccountID, cachedShop{shop: *shop, cachedAt: d.now()})
	return *shop, nil
}

// Invalidate drops the cached shop for the given accounts.
func (d *ShopDirectory) Invalidate(igAccountIDs ...string) {
	for _, id := range igAccountIDs {
		if id != "" {
			d.cache.Remove(id)
		}
	}
}
