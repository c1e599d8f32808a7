package claims

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const campaignColumns = `id, shop_id, name, hold_time_minutes, per_person_limit, is_active, created_at, updated_at`

const ruleColumns = `r.id, r.campaign_id, r.strategy, r.trigger_pattern, r.variant_id, r.product_id,
	r.sku, r.sequential_id, r.created_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type NewCampaign struct {
	Name            string
	HoldTimeMinutes int
	PerPersonLimit  *int
}

type NewMappingRule struct {
	CampaignID     string
	Strategy       Strategy
	TriggerPattern string
	VariantID      string
	ProductID      string
	SKU            string
	SequentialID   *int64
}

func (r *Repo) CreateCampaign(ctx context.Context, shopID string, in NewCampaign) (*Campaign, error) {
	hold := in.HoldTimeMinutes
	if hold <= 0 {
		hold = DefaultHoldMinutes
	}
	row := r.DB.QueryRow(ctx, `
		INSERT INTO campaigns (id, shop_id, name, hold_time_minutes, per_person_limit, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING `+campaignColumns,
		uuid.NewString(), shopID, in.Name, hold, in.PerPersonLimit)
	return scanCampaign(row)
}

func (r *Repo) ListCampaigns(ctx context.Context, shopID string) ([]Campaign, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns
		WHERE shop_id = $1 ORDER BY created_at DESC`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ActiveCampaign picks the campaign that routes new claims. Nothing enforces a
// single active campaign per shop, so the most recently created one wins.
func (r *Repo) ActiveCampaign(ctx context.Context, shopID string) (*Campaign, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns
		WHERE shop_id = $1 AND is_active = TRUE
		ORDER BY created_at DESC LIMIT 1`, shopID)
	return scanCampaign(row)
}

// DeleteCampaign removes the campaign; its rules go with it.
func (r *Repo) DeleteCampaign(ctx context.Context, shopID, campaignID string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM mapping_rules WHERE campaign_id IN
		(SELECT id FROM campaigns WHERE id = $1 AND shop_id = $2)`, campaignID, shopID); err != nil {
		return err
	}
	ct, err := tx.Exec(ctx, `DELETE FROM campaigns WHERE id = $1 AND shop_id = $2`, campaignID, shopID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrCampaignNotFound
	}
	return tx.Commit(ctx)
}

func (r *Repo) CreateRule(ctx context.Context, shopID string, in NewMappingRule) (*MappingRule, error) {
	if !in.Strategy.Valid() {
		return nil, fmt.Errorf("unknown strategy %q", in.Strategy)
	}
	row := r.DB.QueryRow(ctx, `
		INSERT INTO mapping_rules AS r (id, campaign_id, strategy, trigger_pattern, variant_id, product_id, sku, sequential_id)
		SELECT $1::uuid, c.id, $3::text, $4::text, $5::text, $6::text, $7::text, $8::bigint
		FROM campaigns c WHERE c.id = $2 AND c.shop_id = $9
		RETURNING `+ruleColumns,
		uuid.NewString(), in.CampaignID, in.Strategy, in.TriggerPattern, nullIfEmpty(in.VariantID),
		nullIfEmpty(in.ProductID), nullIfEmpty(in.SKU), in.SequentialID, shopID)
	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCampaignNotFound
	}
	return rule, err
}

func (r *Repo) ListRules(ctx context.Context, shopID, campaignID string) ([]MappingRule, error) {
	return queryRules(ctx, r.DB, shopID, campaignID)
}

func (r *Repo) DeleteRule(ctx context.Context, shopID, ruleID string) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM mapping_rules r USING campaigns c
		WHERE r.id = $1 AND r.campaign_id = c.id AND c.shop_id = $2`, ruleID, shopID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// queryRules returns rules in insertion order; matching is first-match-wins.
func queryRules(ctx context.Context, q querier, shopID, campaignID string) ([]MappingRule, error) {
	rows, err := q.Query(ctx, `SELECT `+ruleColumns+`
		FROM mapping_rules r JOIN campaigns c ON c.id = r.campaign_id
		WHERE r.campaign_id = $1 AND c.shop_id = $2
		ORDER BY r.created_at, r.id`, campaignID, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []MappingRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

func scanCampaign(row scanner) (*Campaign, error) {
	var c Campaign
	err := row.Scan(&c.ID, &c.ShopID, &c.Name, &c.HoldTimeMinutes, &c.PerPersonLimit, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanRule(row scanner) (*MappingRule, error) {
	var (
		rule                  MappingRule
		variant, product, sku *string
	)
	if err := row.Scan(&rule.ID, &rule.CampaignID, &rule.Strategy, &rule.TriggerPattern, &variant, &product,
		&sku, &rule.SequentialID, &rule.CreatedAt); err != nil {
		return nil, err
	}
	rule.VariantID = deref(variant)
	rule.ProductID = deref(product)
	rule.SKU = deref(sku)
	return &rule, nil
}
