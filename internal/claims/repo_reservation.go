package claims

import (
	"context"
	"time"
)

// InsertReservation records the hold; the unique claim_id keeps it 1:1.
func (t *pgTx) InsertReservation(ctx context.Context, r *Reservation) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		INSERT INTO reservations (id, shop_id, claim_id, variant_id, quantity, expires_at, released, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (claim_id) DO NOTHING`,
		r.ID, r.ShopID, r.ClaimID, r.VariantID, r.Qty, r.ExpiresAt, r.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// ExpiredReservations locks a batch of open holds past expiry. Rows locked by
// a concurrent sweep are skipped.
func (t *pgTx) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]Reservation, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, shop_id, claim_id, variant_id, quantity, expires_at, released, created_at
		FROM reservations
		WHERE expires_at < $1 AND released = FALSE
		ORDER BY expires_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.ShopID, &r.ClaimID, &r.VariantID, &r.Qty, &r.ExpiresAt, &r.Released, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) ReleaseReservation(ctx context.Context, shopID, reservationID string) error {
	_, err := t.tx.Exec(ctx, `UPDATE reservations SET released = TRUE
		WHERE id = $1 AND shop_id = $2 AND released = FALSE`, reservationID, shopID)
	return err
}
