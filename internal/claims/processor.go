package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-social-claims.git/internal/kafka"
	"github.com/ariefcatur/go-social-claims.git/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultNotifyTimeout = 10 * time.Second

type ProcessorConfig struct {
	ServiceName   string
	NotifyTimeout time.Duration
	// DefaultHoldMinutes applies to campaigns without their own hold time.
	DefaultHoldMinutes int
}

// Processor drives one claim from NEW to its resting status.
type Processor struct {
	store        Store
	reservations *ReservationManager
	inventory    InventoryLookup
	checkout     CheckoutCreator
	notifier     Notifier
	events       Publisher
	log          *zap.Logger
	tracer       trace.Tracer
	cfg          ProcessorConfig
}

type ProcessorDeps struct {
	Store        Store
	Reservations *ReservationManager
	Inventory    InventoryLookup
	Checkout     CheckoutCreator
	Notifier     Notifier
	Events       Publisher // optional
	Log          *zap.Logger
}

func NewProcessor(d ProcessorDeps, cfg ProcessorConfig) *Processor {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if cfg.DefaultHoldMinutes <= 0 {
		cfg.DefaultHoldMinutes = DefaultHoldMinutes
	}
	return &Processor{
		store:        d.Store,
		reservations: d.Reservations,
		inventory:    d.Inventory,
		checkout:     d.Checkout,
		notifier:     d.Notifier,
		events:       d.Events,
		log:          d.Log.Named("claims"),
		tracer:       otel.Tracer("claims"),
		cfg:          cfg,
	}
}

type Result struct {
	Claim Claim
	// Skipped is set when the claim had already left NEW; nothing was written.
	Skipped  bool
	Notified bool
}

// delivery carries what the notification step needs out of the transaction.
type delivery struct {
	shop        Shop
	holdMinutes int
}

// Process runs parse, match, inventory check, checkout and reservation in a
// single transaction, then tries to deliver the checkout link. Delivery
// failures never undo the reservation.
func (p *Processor) Process(ctx context.Context, shopID, claimID string) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "claims.process", trace.WithAttributes(
		attribute.String("claim.id", claimID),
		attribute.String("shop.id", shopID),
	))
	defer span.End()
	log := observability.WithTrace(ctx, p.log.With(zap.String("claim_id", claimID), zap.String("shop_id", shopID)))

	var (
		res Result
		dlv delivery
	)
	err := p.store.WithinTx(ctx, func(tx Tx) error {
		res = Result{}
		c, err := tx.ClaimForUpdate(ctx, shopID, claimID)
		if err != nil {
			return err
		}
		if c.Status != StatusNew {
			res.Claim = *c
			res.Skipped = true
			return nil
		}
		dlv, err = p.resolve(ctx, tx, c)
		if err != nil {
			return err
		}
		res.Claim = *c
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "process claim")
		log.Error("claim processing aborted", zap.Error(err))
		return Result{}, fmt.Errorf("process claim %s: %w", claimID, err)
	}
	span.SetAttributes(attribute.String("claim.status", string(res.Claim.Status)))

	if res.Skipped {
		log.Info("claim already processed", zap.String("status", string(res.Claim.Status)))
		return res, nil
	}
	log.Info("claim processed",
		zap.String("status", string(res.Claim.Status)),
		zap.String("variant_id", res.Claim.MatchedVariantID),
	)
	p.publish(ctx, res.Claim)

	if res.Claim.Status == StatusReserved {
		res.Claim, res.Notified = p.deliver(ctx, dlv, res.Claim)
	}
	return res, nil
}

// resolve applies the pipeline to a locked NEW claim and persists the final
// status. Any returned error aborts the whole transaction.
func (p *Processor) resolve(ctx context.Context, tx Tx, c *Claim) (delivery, error) {
	intent, ok := ParseIntent(c.RawMessage)
	if !ok {
		return delivery{}, p.settle(ctx, tx, c, StatusFailedParse)
	}
	c.ParsedIntent = &intent
	if err := c.Transition(StatusMatched); err != nil {
		return delivery{}, err
	}

	if c.CampaignID == "" {
		return delivery{}, p.settle(ctx, tx, c, StatusFailedParse)
	}
	rules, err := tx.MappingRules(ctx, c.ShopID, c.CampaignID)
	if err != nil {
		return delivery{}, fmt.Errorf("load mapping rules: %w", err)
	}
	variantID, ok := MatchRule(intent, rules)
	if !ok {
		return delivery{}, p.settle(ctx, tx, c, StatusFailedParse)
	}

	shop, err := tx.Shop(ctx, c.ShopID)
	if err != nil {
		return delivery{}, fmt.Errorf("load shop: %w", err)
	}
	variant, err := p.inventory.GetVariant(ctx, *shop, variantID)
	if err != nil {
		return delivery{}, fmt.Errorf("inventory lookup %s: %w", variantID, err)
	}
	c.MatchedVariantID = variantID
	if variant == nil || variant.InventoryQuantity < 1 {
		return delivery{}, p.settle(ctx, tx, c, StatusOutOfStock)
	}

	campaign, err := tx.Campaign(ctx, c.ShopID, c.CampaignID)
	if err != nil {
		return delivery{}, fmt.Errorf("load campaign: %w", err)
	}
	qty := intent.Qty()
	co, err := p.checkout.CreateCheckout(ctx, *shop, CheckoutRequest{
		VariantID: variantID,
		Quantity:  qty,
		Note:      "Instagram claim from " + c.Sender(),
	})
	if err != nil {
		return delivery{}, fmt.Errorf("create checkout: %w", err)
	}

	hold := campaign.HoldTimeMinutes
	if hold <= 0 {
		hold = p.cfg.DefaultHoldMinutes
	}
	r, err := p.reservations.Reserve(ctx, tx, c.ShopID, c.ID, variantID, qty, hold)
	if err != nil {
		return delivery{}, err
	}
	if err := c.Transition(StatusReserved); err != nil {
		return delivery{}, err
	}
	c.CheckoutRef = co.Reference
	c.CheckoutURL = co.URL
	expiresAt := r.ExpiresAt
	c.ExpiresAt = &expiresAt
	if err := tx.UpdateClaim(ctx, c); err != nil {
		return delivery{}, fmt.Errorf("update claim: %w", err)
	}
	return delivery{shop: *shop, holdMinutes: hold}, nil
}

func (p *Processor) settle(ctx context.Context, tx Tx, c *Claim, status Status) error {
	if err := c.Transition(status); err != nil {
		return err
	}
	if err := tx.UpdateClaim(ctx, c); err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	return nil
}

func (p *Processor) deliver(ctx context.Context, d delivery, c Claim) (Claim, bool) {
	log := p.log.With(zap.String("claim_id", c.ID), zap.String("shop_id", c.ShopID))
	if !d.shop.CanMessage() {
		log.Info("checkout link ready for manual dispatch",
			zap.String("recipient_id", c.SenderID),
			zap.String("checkout_url", c.CheckoutURL),
			zap.Int("expires_in_minutes", d.holdMinutes),
		)
		return c, false
	}

	nctx, cancel := context.WithTimeout(ctx, p.cfg.NotifyTimeout)
	nctx, span := p.tracer.Start(nctx, "claims.notify")
	err := p.notifier.SendMessage(nctx, d.shop.IGAccountID, c.SenderID, CheckoutMessage(c.CheckoutURL, d.holdMinutes), d.shop.IGAccessToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send message")
	}
	span.End()
	cancel()
	if err != nil {
		log.Warn("checkout link not delivered, claim stays reserved", zap.Error(err))
		return c, false
	}

	updated, err := p.markLinkSent(ctx, c.ShopID, c.ID)
	if err != nil {
		log.Error("link delivered but status not updated", zap.Error(err))
		return c, true
	}
	if updated.Status == StatusLinkSent {
		p.publish(ctx, updated)
	}
	return updated, true
}

func (p *Processor) markLinkSent(ctx context.Context, shopID, claimID string) (Claim, error) {
	var out Claim
	err := p.store.WithinTx(ctx, func(tx Tx) error {
		c, err := tx.ClaimForUpdate(ctx, shopID, claimID)
		if err != nil {
			return err
		}
		out = *c
		if c.Status != StatusReserved {
			// expired or settled while the message was in flight
			return nil
		}
		if err := c.Transition(StatusLinkSent); err != nil {
			return err
		}
		if err := tx.UpdateClaim(ctx, c); err != nil {
			return err
		}
		out = *c
		return nil
	})
	return out, err
}

func (p *Processor) publish(ctx context.Context, c Claim) {
	if p.events == nil {
		return
	}
	b, err := EncodeStatusChanged(ctx, p.cfg.ServiceName, c)
	if err != nil {
		p.log.Error("encode status event", zap.String("claim_id", c.ID), zap.Error(err))
		return
	}
	p.events.Publish(PartitionKey(c.ID), b, kafkax.EventHeaders(ctx, EventClaimStatusChanged, 1)...)
}

func CheckoutMessage(url string, holdMinutes int) string {
	return fmt.Sprintf("Item reserved! Complete your purchase here: %s\n\nLink expires in %d minutes.", url, holdMinutes)
}

// IsNotFound reports the lookup errors that mean "nothing to process".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClaimNotFound) || errors.Is(err, ErrShopNotFound) || errors.Is(err, ErrCampaignNotFound)
}
