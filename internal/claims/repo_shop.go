package claims

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const shopColumns = `id, shopify_domain, access_token, ig_account_id, ig_access_token, installed_at, updated_at`

type ComplianceRequest struct {
	ShopID        string
	RequestType   string
	RequestRef    string
	CustomerEmail string
	Payload       []byte
}

func (r *Repo) ShopByDomain(ctx context.Context, domain string) (*Shop, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+shopColumns+` FROM shops WHERE shopify_domain = $1`, domain)
	return scanShop(row)
}

func (r *Repo) ShopByIGAccount(ctx context.Context, igAccountID string) (*Shop, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+shopColumns+` FROM shops WHERE ig_account_id = $1
		ORDER BY updated_at DESC LIMIT 1`, igAccountID)
	return scanShop(row)
}

func (r *Repo) UpdateIGConnection(ctx context.Context, shopID, igAccountID, igAccessToken string) error {
	ct, err := r.DB.Exec(ctx, `UPDATE shops SET ig_account_id = $2, ig_access_token = $3, updated_at = NOW()
		WHERE id = $1`, shopID, igAccountID, igAccessToken)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrShopNotFound
	}
	return nil
}

func (r *Repo) RecordComplianceRequest(ctx context.Context, req ComplianceRequest) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO compliance_requests (id, shop_id, request_type, request_ref, customer_email, request_data)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), nullIfEmpty(req.ShopID), req.RequestType, req.RequestRef,
		nullIfEmpty(req.CustomerEmail), req.Payload)
	return err
}

// RedactCustomer deletes every claim a customer made against the shop and
// returns their ids. Reservations cascade with the claims.
func (r *Repo) RedactCustomer(ctx context.Context, shopID, senderID string) ([]string, error) {
	rows, err := r.DB.Query(ctx, `DELETE FROM claims WHERE shop_id = $1 AND sender_id = $2 RETURNING id`, shopID, senderID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// RedactShop erases all data held for the shop and returns the ids of the
// deleted claims.
func (r *Repo) RedactShop(ctx context.Context, shopID string) ([]string, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM reservations WHERE shop_id = $1`, shopID); err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `DELETE FROM claims WHERE shop_id = $1 RETURNING id`, shopID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	for _, q := range []string{
		`DELETE FROM mapping_rules WHERE campaign_id IN (SELECT id FROM campaigns WHERE shop_id = $1)`,
		`DELETE FROM campaigns WHERE shop_id = $1`,
		`DELETE FROM shops WHERE id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, shopID); err != nil {
			return nil, err
		}
	}
	return ids, tx.Commit(ctx)
}

func scanShop(row scanner) (*Shop, error) {
	var (
		s                  Shop
		igAccount, igToken *string
	)
	err := row.Scan(&s.ID, &s.Domain, &s.AccessToken, &igAccount, &igToken, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrShopNotFound
	}
	if err != nil {
		return nil, err
	}
	s.IGAccountID = deref(igAccount)
	s.IGAccessToken = deref(igToken)
	return &s, nil
}
