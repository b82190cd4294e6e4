package repository

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"

	"github.com/iliyamo/table-reservation/internal/model"
)

var slotColumns = []string{
	"s.id", "s.slot_number", "s.table_number", "s.capacity", "s.reserved",
	"s.reserved_by", "s.reservation_expiry", "s.disabled", "s.reserve_date",
}

// SlotRepo provides data access to the slots table.  Every state
// transition is a single UPDATE whose WHERE clause carries the
// precondition, so concurrent callers cannot both win.
type SlotRepo struct {
	db *sql.DB
}

// NewSlotRepo constructs a SlotRepo with the given DB handle.
func NewSlotRepo(db *sql.DB) *SlotRepo {
	return &SlotRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner, extra ...any) (model.Slot, error) {
	var (
		s          model.Slot
		reservedBy sql.NullInt64
		expiry     sql.NullTime
	)
	dest := []any{
		&s.ID, &s.SlotNumber, &s.TableNumber, &s.Capacity, &s.Reserved,
		&reservedBy, &expiry, &s.Disabled, &s.ReserveDate,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return s, err
	}
	if reservedBy.Valid {
		id := uint64(reservedBy.Int64)
		s.ReservedBy = &id
	}
	if expiry.Valid {
		t := expiry.Time
		s.ReservationExpiry = &t
	}
	return s, nil
}

// Get loads a slot by its composite key.
func (r *SlotRepo) Get(ctx context.Context, slotNumber, tableNumber int) (*model.Slot, error) {
	q, args, err := sq.Select(slotColumns...).
		From("slots s").
		Where(sq.Eq{"s.slot_number": slotNumber}).
		Where(sq.Eq{"s.table_number": tableNumber}).
		ToSql()
	if err != nil {
		return nil, err
	}
	s, err := scanSlot(r.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListBySlot returns every table of a time window ordered by table
// number, with the reserving user's public details joined in.
func (r *SlotRepo) ListBySlot(ctx context.Context, slotNumber int) ([]model.SlotView, error) {
	cols := append(append([]string{}, slotColumns...), "u.id", "u.name", "u.email")
	q, args, err := sq.Select(cols...).
		From("slots s").
		LeftJoin("users u ON u.id = s.reserved_by").
		Where(sq.Eq{"s.slot_number": slotNumber}).
		OrderBy("s.table_number ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []model.SlotView{}
	for rows.Next() {
		var (
			uid         sql.NullInt64
			name, email sql.NullString
		)
		s, err := scanSlot(rows, &uid, &name, &email)
		if err != nil {
			return nil, err
		}
		v := model.SlotView{Slot: s, SlotTime: model.SlotLabel(s.SlotNumber)}
		if uid.Valid {
			v.User = &model.SlotUser{ID: uint64(uid.Int64), Name: name.String, Email: email.String}
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Available returns free, enabled tables of a window.  Capacity and
// Exclude are applied only when positive.
func (r *SlotRepo) Available(ctx context.Context, f model.AvailabilityFilter) ([]model.Slot, error) {
	b := sq.Select(slotColumns...).
		From("slots s").
		Where(sq.Eq{"s.slot_number": f.SlotNumber}).
		Where(sq.Eq{"s.reserved": false}).
		Where(sq.Eq{"s.disabled": false})
	if f.Capacity > 0 {
		b = b.Where(sq.Eq{"s.capacity": f.Capacity})
	}
	if f.Exclude > 0 {
		b = b.Where(sq.NotEq{"s.table_number": f.Exclude})
	}
	q, args, err := b.OrderBy("s.table_number ASC").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []model.Slot{}
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Create inserts a free, enabled table.  On success ID and ReserveDate
// are populated.  A duplicate (slot, table) pair yields ErrDuplicate.
func (r *SlotRepo) Create(ctx context.Context, s *model.Slot) error {
	const q = `INSERT INTO slots (slot_number, table_number, capacity) VALUES (?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, s.SlotNumber, s.TableNumber, s.Capacity)
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
	fresh, err := r.Get(ctx, s.SlotNumber, s.TableNumber)
	if err != nil {
		s.ID = uint64(id)
		return nil
	}
	*s = *fresh
	return nil
}

// Delete removes a table from a window.
func (r *SlotRepo) Delete(ctx context.Context, slotNumber, tableNumber int) error {
	const q = `DELETE FROM slots WHERE slot_number = ? AND table_number = ?`
	res, err := r.db.ExecContext(ctx, q, slotNumber, tableNumber)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// MarkReserved books a table for userID only if it is still free and
// enabled.  ErrConflict means the precondition no longer held.
func (r *SlotRepo) MarkReserved(ctx context.Context, slotNumber, tableNumber int, userID uint64) error {
	const q = `UPDATE slots SET reserved = 1, reserved_by = ?
	           WHERE slot_number = ? AND table_number = ? AND reserved = 0 AND disabled = 0`
	return r.conditional(ctx, q, userID, slotNumber, tableNumber)
}

// Release frees a table only if it is still reserved by userID.
func (r *SlotRepo) Release(ctx context.Context, slotNumber, tableNumber int, userID uint64) error {
	const q = `UPDATE slots SET reserved = 0, reserved_by = NULL
	           WHERE slot_number = ? AND table_number = ? AND reserved = 1 AND reserved_by = ?`
	return r.conditional(ctx, q, slotNumber, tableNumber, userID)
}

// Restore gives a released table back to userID.  Unlike MarkReserved it
// ignores the disabled flag, so a table that was reserved and disabled
// returns to exactly that state.
func (r *SlotRepo) Restore(ctx context.Context, slotNumber, tableNumber int, userID uint64) error {
	const q = `UPDATE slots SET reserved = 1, reserved_by = ?
	           WHERE slot_number = ? AND table_number = ? AND reserved = 0`
	return r.conditional(ctx, q, userID, slotNumber, tableNumber)
}

// ToggleDisabled flips the disabled flag.
func (r *SlotRepo) ToggleDisabled(ctx context.Context, slotNumber, tableNumber int) error {
	const q = `UPDATE slots SET disabled = NOT disabled WHERE slot_number = ? AND table_number = ?`
	res, err := r.db.ExecContext(ctx, q, slotNumber, tableNumber)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *SlotRepo) conditional(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
