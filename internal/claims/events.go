package claims

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	EventClaimReceived      = "ClaimReceived"
	EventClaimStatusChanged = "ClaimStatusChanged"
)

const (
	TopicClaimReceived = "claim.received"
	TopicClaimOutcome  = "claim.outcome"
)

// Partition key = claim_id, every event of one claim stays ordered.
func PartitionKey(claimID string) []byte { return []byte(claimID) }

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // claim_id
	Payload       json.RawMessage `json:"payload"`
}

type ClaimReceivedPayload struct {
	ClaimID         string  `json:"claim_id"`
	ShopID          string  `json:"shop_id"`
	CampaignID      string  `json:"campaign_id,omitempty"`
	Channel         Channel `json:"channel"`
	SenderID        string  `json:"sender_id"`
	SourceMessageID string  `json:"source_message_id"`
}

type ClaimStatusChangedPayload struct {
	ClaimID     string     `json:"claim_id"`
	ShopID      string     `json:"shop_id"`
	CampaignID  string     `json:"campaign_id,omitempty"`
	Status      Status     `json:"status"`
	VariantID   string     `json:"variant_id,omitempty"`
	CheckoutURL string     `json:"checkout_url,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func StatusChangedPayload(c Claim) ClaimStatusChangedPayload {
	return ClaimStatusChangedPayload{
		ClaimID:     c.ID,
		ShopID:      c.ShopID,
		CampaignID:  c.CampaignID,
		Status:      c.Status,
		VariantID:   c.MatchedVariantID,
		CheckoutURL: c.CheckoutURL,
		ExpiresAt:   c.ExpiresAt,
	}
}

// EncodeStatusChanged wraps the claim's current state in a ClaimStatusChanged
// envelope.
func EncodeStatusChanged(ctx context.Context, producer string, c Claim) ([]byte, error) {
	return encodeEnvelope(ctx, producer, EventClaimStatusChanged, c.ID, StatusChangedPayload(c))
}

// EncodeClaimReceived wraps a freshly stored claim in a ClaimReceived envelope.
func EncodeClaimReceived(ctx context.Context, producer string, c Claim) ([]byte, error) {
	return encodeEnvelope(ctx, producer, EventClaimReceived, c.ID, ClaimReceivedPayload{
		ClaimID:         c.ID,
		ShopID:          c.ShopID,
		CampaignID:      c.CampaignID,
		Channel:         c.Channel,
		SenderID:        c.SenderID,
		SourceMessageID: c.SourceMessageID,
	})
}

func encodeEnvelope(ctx context.Context, producer, eventType, claimID string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: claimID,
		Payload:       payload,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		ev.TraceID = sc.TraceID().String()
	}
	return json.Marshal(ev)
}
