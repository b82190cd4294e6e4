package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/table-reservation/internal/model"
)

// PaymentRepo persists the per-user reservation fee ledger (payments table).
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo constructs a PaymentRepo with the given DB handle.
func NewPaymentRepo(db *sql.DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

// Append inserts a ledger entry and populates its ID.  A reused payment
// intent id yields ErrDuplicate.
func (r *PaymentRepo) Append(ctx context.Context, e *model.PaymentEntry) error {
	const q = `INSERT INTO payments
	           (user_id, payment_intent_id, amount, status, reservation_id, table_number, slot_time, deducted)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		e.UserID, e.PaymentIntentID, e.Amount, e.Status, e.ReservationID, e.TableNumber, e.SlotTime, e.Deducted)
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// MarkDeducted consumes every open entry of userID for the given slot id
// and returns how many entries changed.
func (r *PaymentRepo) MarkDeducted(ctx context.Context, userID, reservationID uint64) (int64, error) {
	const q = `UPDATE payments SET deducted = 1
	           WHERE user_id = ? AND reservation_id = ? AND deducted = 0`
	res, err := r.db.ExecContext(ctx, q, userID, reservationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Retarget moves the open entries of userID from one slot to another,
// updating the table number shown on the ledger.
func (r *PaymentRepo) Retarget(ctx context.Context, userID, fromReservationID, toReservationID uint64, tableNumber int) (int64, error) {
	const q = `UPDATE payments SET reservation_id = ?, table_number = ?
	           WHERE user_id = ? AND reservation_id = ? AND deducted = 0`
	res, err := r.db.ExecContext(ctx, q, toReservationID, tableNumber, userID, fromReservationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListByUser returns a user's ledger, newest first.
func (r *PaymentRepo) ListByUser(ctx context.Context, userID uint64) ([]model.PaymentEntry, error) {
	const q = `SELECT id, user_id, payment_intent_id, amount, status, reservation_id, table_number, slot_time, deducted, created_at
	           FROM payments WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.PaymentEntry{}
	for rows.Next() {
		var e model.PaymentEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.PaymentIntentID, &e.Amount, &e.Status,
			&e.ReservationID, &e.TableNumber, &e.SlotTime, &e.Deducted, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
