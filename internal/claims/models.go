package claims

import "time"

type Channel string

const (
	ChannelComment     Channel = "COMMENT"
	ChannelDM          Channel = "DM"
	ChannelStoryReply  Channel = "STORY_REPLY"
	ChannelLiveComment Channel = "LIVE_COMMENT"
)

type Strategy string

const (
	StrategySKU          Strategy = "SKU"
	StrategySequentialID Strategy = "SEQUENTIAL_ID"
	StrategyKeyword      Strategy = "KEYWORD"
	StrategyBarcode      Strategy = "BARCODE"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategySKU, StrategySequentialID, StrategyKeyword, StrategyBarcode:
		return true
	}
	return false
}

const DefaultHoldMinutes = 15

// Shop is the tenant root. Credentials are written by the OAuth flows.
type Shop struct {
	ID            string    `json:"id"`
	Domain        string    `json:"shopify_domain"`
	AccessToken   string    `json:"-"`
	IGAccountID   string    `json:"ig_account_id,omitempty"`
	IGAccessToken string    `json:"-"`
	CreatedAt     time.Time `json:"installed_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CanMessage reports whether outbound DMs can be sent for this shop.
func (s Shop) CanMessage() bool {
	return s.IGAccountID != "" && s.IGAccessToken != ""
}

type Campaign struct {
	ID              string    `json:"id"`
	ShopID          string    `json:"shop_id"`
	Name            string    `json:"name"`
	HoldTimeMinutes int       `json:"hold_time_minutes"`
	PerPersonLimit  *int      `json:"per_person_limit,omitempty"` // stored, not enforced
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type MappingRule struct {
	ID             string    `json:"id"`
	CampaignID     string    `json:"campaign_id"`
	Strategy       Strategy  `json:"strategy"`
	TriggerPattern string    `json:"trigger_pattern"`
	VariantID      string    `json:"variant_id,omitempty"`
	ProductID      string    `json:"product_id,omitempty"`
	SKU            string    `json:"sku,omitempty"`
	SequentialID   *int64    `json:"sequential_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Claim struct {
	ID               string     `json:"id"`
	ShopID           string     `json:"shop_id"`
	CampaignID       string     `json:"campaign_id,omitempty"`
	Status           Status     `json:"status"`
	Channel          Channel    `json:"channel"`
	SenderID         string     `json:"sender_id"`
	SenderHandle     string     `json:"sender_handle,omitempty"`
	SourceMessageID  string     `json:"source_message_id"`
	RawMessage       string     `json:"raw_message"`
	ParsedIntent     *Intent    `json:"parsed_intent,omitempty"`
	MatchedVariantID string     `json:"matched_variant_id,omitempty"`
	CheckoutRef      string     `json:"checkout_ref,omitempty"`
	CheckoutURL      string     `json:"checkout_url,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Sender is how the claimant is addressed in notes and logs.
func (c Claim) Sender() string {
	if c.SenderHandle != "" {
		return "@" + c.SenderHandle
	}
	return c.SenderID
}

type Reservation struct {
	ID        string    `json:"id"`
	ShopID    string    `json:"shop_id"`
	ClaimID   string    `json:"claim_id"`
	VariantID string    `json:"variant_id"`
	Qty       int       `json:"quantity"`
	ExpiresAt time.Time `json:"expires_at"`
	Released  bool      `json:"released"`
	CreatedAt time.Time `json:"created_at"`
}

// NewClaim is what inbound ingestion hands over to create a claim in NEW.
type NewClaim struct {
	ShopID          string
	CampaignID      string
	Channel         Channel
	SenderID        string
	SenderHandle    string
	SourceMessageID string
	RawMessage      string
}
