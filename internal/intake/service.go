package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-social-claims.git/internal/claims"
	"github.com/ariefcatur/go-social-claims.git/internal/instagram"
	"go.uber.org/zap"
)

var (
	ErrDuplicateMessage = errors.New("message already ingested")
	ErrUnknownAccount   = errors.New("no shop connected to instagram account")
)

type Repository interface {
	ActiveCampaign(ctx context.Context, shopID string) (*claims.Campaign, error)
	CreateClaim(ctx context.Context, in claims.NewClaim) (*claims.Claim, error)
}

type Shops interface {
	Shop(ctx context.Context, igAccountID string) (claims.Shop, error)
}

// Service turns inbound Instagram messages into NEW claims.
type Service struct {
	shops    Shops
	repo     Repository
	dedup    Deduper // optional
	dispatch Dispatcher
	log      *zap.Logger
}

func NewService(shops Shops, repo Repository, dedup Deduper, dispatch Dispatcher, log *zap.Logger) *Service {
	return &Service{shops: shops, repo: repo, dedup: dedup, dispatch: dispatch, log: log.Named("intake")}
}

// Ingest stores the message as a claim and dispatches it. A dispatch error is
// returned alongside the stored claim; the claim stays NEW.
func (s *Service) Ingest(ctx context.Context, msg instagram.InboundMessage) (*claims.Claim, error) {
	shop, err := s.shops.Shop(ctx, msg.RecipientID)
	if errors.Is(err, claims.ErrShopNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, msg.RecipientID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve shop: %w", err)
	}
	log := s.log.With(zap.String("shop_id", shop.ID), zap.String("message_id", msg.MessageID))

	if s.dedup != nil && msg.MessageID != "" {
		first, err := s.dedup.First(ctx, shop.ID, msg.MessageID)
		if err != nil {
			// accept the message when redis is unavailable
			log.Warn("ingest dedup unavailable", zap.Error(err))
		} else if !first {
			return nil, ErrDuplicateMessage
		}
	}

	var campaignID string
	campaign, err := s.repo.ActiveCampaign(ctx, shop.ID)
	switch {
	case errors.Is(err, claims.ErrCampaignNotFound):
		log.Warn("no active campaign, claim will fail to match")
	case err != nil:
		s.forget(ctx, shop.ID, msg.MessageID)
		return nil, fmt.Errorf("active campaign: %w", err)
	default:
		campaignID = campaign.ID
	}

	c, err := s.repo.CreateClaim(ctx, claims.NewClaim{
		ShopID:          shop.ID,
		CampaignID:      campaignID,
		Channel:         msg.Channel,
		SenderID:        msg.SenderID,
		SenderHandle:    msg.SenderHandle,
		SourceMessageID: msg.MessageID,
		RawMessage:      msg.Text,
	})
	if err != nil {
		s.forget(ctx, shop.ID, msg.MessageID)
		return nil, fmt.Errorf("create claim: %w", err)
	}
	log.Info("claim received",
		zap.String("claim_id", c.ID),
		zap.String("channel", string(c.Channel)),
		zap.String("campaign_id", campaignID),
	)

	if err := s.dispatch.Dispatch(ctx, *c); err != nil {
		return c, fmt.Errorf("dispatch claim %s: %w", c.ID, err)
	}
	return c, nil
}

func (s *Service) forget(ctx context.Context, shopID, messageID string) {
	if s.dedup == nil || messageID == "" {
		return
	}
	if err := s.dedup.Forget(ctx, shopID, messageID); err != nil {
		s.log.Warn("release ingest dedup key", zap.String("message_id", messageID), zap.Error(err))
	}
}
