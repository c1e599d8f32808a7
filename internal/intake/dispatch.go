package intake

import (
	"context"

	"github.com/ariefcatur/go-social-claims.git/internal/claims"
	kafkax "github.com/ariefcatur/go-social-claims.git/internal/kafka"
)

// Dispatcher hands a freshly stored claim to processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, c claims.Claim) error
}

// KafkaDispatcher publishes ClaimReceived for the claims worker.
type KafkaDispatcher struct {
	Events   claims.Publisher
	Producer string
}

func (d KafkaDispatcher) Dispatch(ctx context.Context, c claims.Claim) error {
	b, err := claims.EncodeClaimReceived(ctx, d.Producer, c)
	if err != nil {
		return err
	}
	d.Events.Publish(claims.PartitionKey(c.ID), b, kafkax.EventHeaders(ctx, claims.EventClaimReceived, 1)...)
	return nil
}

type ClaimProcessor interface {
	Process(ctx context.Context, shopID, claimID string) (claims.Result, error)
}

// InlineDispatcher processes the claim before returning.
type InlineDispatcher struct {
	Processor ClaimProcessor
}

func (d InlineDispatcher) Dispatch(ctx context.Context, c claims.Claim) error {
	_, err := d.Processor.Process(ctx, c.ShopID, c.ID)
	return err
}
