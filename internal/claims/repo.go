package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres-backed Store plus the reads and writes the HTTP layer
// needs. Column names are mapped to the record types here and nowhere else.
type Repo struct{ DB *pgxpool.Pool }

const claimColumns = `id, shop_id, campaign_id, status, channel, sender_id, sender_handle,
	source_message_id, raw_message, parsed_intent, matched_variant_id, checkout_ref,
	checkout_url, expires_at, created_at, updated_at`

func (r *Repo) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateClaim inserts a claim in NEW.
func (r *Repo) CreateClaim(ctx context.Context, in NewClaim) (*Claim, error) {
	row := r.DB.QueryRow(ctx, `
		INSERT INTO claims (id, shop_id, campaign_id, status, channel, sender_id, sender_handle,
		                    source_message_id, raw_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+claimColumns,
		uuid.NewString(), in.ShopID, nullIfEmpty(in.CampaignID), StatusNew, in.Channel,
		in.SenderID, nullIfEmpty(in.SenderHandle), in.SourceMessageID, in.RawMessage,
	)
	return scanClaim(row)
}

func (r *Repo) GetClaim(ctx context.Context, shopID, claimID string) (*Claim, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1 AND shop_id = $2`, claimID, shopID)
	return scanClaim(row)
}

// ListClaims returns the newest claims of a shop, optionally for one campaign.
func (r *Repo) ListClaims(ctx context.Context, shopID, campaignID string, limit int) ([]Claim, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var (
		rows pgx.Rows
		err  error
	)
	if campaignID != "" {
		rows, err = r.DB.Query(ctx, `SELECT `+claimColumns+` FROM claims
			WHERE shop_id = $1 AND campaign_id = $2 ORDER BY created_at DESC LIMIT $3`, shopID, campaignID, limit)
	} else {
		rows, err = r.DB.Query(ctx, `SELECT `+claimColumns+` FROM claims
			WHERE shop_id = $1 ORDER BY created_at DESC LIMIT $2`, shopID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Claim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) ClaimForUpdate(ctx context.Context, shopID, claimID string) (*Claim, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims
		WHERE id = $1 AND shop_id = $2 FOR UPDATE`, claimID, shopID)
	return scanClaim(row)
}

func (t *pgTx) UpdateClaim(ctx context.Context, c *Claim) error {
	var intent []byte
	if c.ParsedIntent != nil {
		b, err := json.Marshal(c.ParsedIntent)
		if err != nil {
			return fmt.Errorf("encode parsed intent: %w", err)
		}
		intent = b
	}
	err := t.tx.QueryRow(ctx, `
		UPDATE claims SET
			status = $3, parsed_intent = $4, matched_variant_id = $5, checkout_ref = $6,
			checkout_url = $7, expires_at = $8, updated_at = NOW()
		WHERE id = $1 AND shop_id = $2
		RETURNING updated_at`,
		c.ID, c.ShopID, c.Status, intent, nullIfEmpty(c.MatchedVariantID),
		nullIfEmpty(c.CheckoutRef), nullIfEmpty(c.CheckoutURL), c.ExpiresAt,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrClaimNotFound
	}
	return err
}

func (t *pgTx) Shop(ctx context.Context, shopID string) (*Shop, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+shopColumns+` FROM shops WHERE id = $1`, shopID)
	return scanShop(row)
}

func (t *pgTx) Campaign(ctx context.Context, shopID, campaignID string) (*Campaign, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns
		WHERE id = $1 AND shop_id = $2`, campaignID, shopID)
	return scanCampaign(row)
}

func (t *pgTx) MappingRules(ctx context.Context, shopID, campaignID string) ([]MappingRule, error) {
	return queryRules(ctx, t.tx, shopID, campaignID)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClaim(row scanner) (*Claim, error) {
	var (
		c                                          Claim
		campaignID, handle, variant, ref, checkout *string
		intent                                     []byte
	)
	err := row.Scan(&c.ID, &c.ShopID, &campaignID, &c.Status, &c.Channel, &c.SenderID, &handle,
		&c.SourceMessageID, &c.RawMessage, &intent, &variant, &ref, &checkout,
		&c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrClaimNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CampaignID = deref(campaignID)
	c.SenderHandle = deref(handle)
	c.MatchedVariantID = deref(variant)
	c.CheckoutRef = deref(ref)
	c.CheckoutURL = deref(checkout)
	if len(intent) > 0 {
		var in Intent
		if err := json.Unmarshal(intent, &in); err != nil {
			return nil, fmt.Errorf("decode parsed intent of claim %s: %w", c.ID, err)
		}
		c.ParsedIntent = &in
	}
	return &c, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
