package claims

import (
	"context"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

var (
	ErrClaimNotFound    = errors.New("claim not found")
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrShopNotFound     = errors.New("shop not found")
	ErrRuleNotFound     = errors.New("mapping rule not found")
)

// Store runs fn inside one atomic unit of work. A non-nil error from fn
// rolls back everything fn wrote.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the storage surface used by claim processing. Every read is scoped by
// shop id.
type Tx interface {
	ClaimForUpdate(ctx context.Context, shopID, claimID string) (*Claim, error)
	UpdateClaim(ctx context.Context, c *Claim) error
	Shop(ctx context.Context, shopID string) (*Shop, error)
	Campaign(ctx context.Context, shopID, campaignID string) (*Campaign, error)
	MappingRules(ctx context.Context, shopID, campaignID string) ([]MappingRule, error)

	// InsertReservation returns false when the claim already holds one.
	InsertReservation(ctx context.Context, r *Reservation) (bool, error)
	ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]Reservation, error)
	ReleaseReservation(ctx context.Context, shopID, reservationID string) error
}

type Variant struct {
	VariantID         string
	InventoryQuantity int
}

// InventoryLookup returns nil, nil when the variant does not exist.
type InventoryLookup interface {
	GetVariant(ctx context.Context, shop Shop, variantID string) (*Variant, error)
}

type CheckoutRequest struct {
	VariantID string
	Quantity  int
	Note      string
}

type Checkout struct {
	Reference string
	URL       string
}

type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, shop Shop, req CheckoutRequest) (Checkout, error)
}

type Notifier interface {
	SendMessage(ctx context.Context, accountID, recipientID, text, accessToken string) error
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}
