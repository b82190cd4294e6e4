package model

import "time"

// Ledger entry status values that are not taken from the payment gateway.
const (
	PaymentStatusSucceeded     = "succeeded"
	PaymentStatusAdminAssisted = "admin_assisted"
)

// PaymentEntry records a reservation fee attached to a user.  Deducted
// marks that the fee has been consumed (applied to a bill or voided by a
// cancellation) and must not be counted again.
//
// Fields:
//
//	ID              – primary key identifier.
//	UserID          – user who paid.
//	PaymentIntentID – gateway intent id; unique across the ledger.
//	Amount          – fee amount in major currency units.
//	Status          – gateway status or PaymentStatusAdminAssisted.
//	ReservationID   – slot id that was reserved with this payment.
//	TableNumber     – table reserved (kept in sync on table changes).
//	SlotTime        – human label of the slot window.
//	Deducted        – whether the fee has been consumed.
//	CreatedAt       – creation timestamp.
type PaymentEntry struct {
	ID              uint64    `json:"id"`              // payments.id
	UserID          uint64    `json:"userId"`          // payments.user_id
	PaymentIntentID string    `json:"paymentIntentId"` // payments.payment_intent_id
	Amount          int64     `json:"amount"`          // payments.amount
	Status          string    `json:"status"`          // payments.status
	ReservationID   uint64    `json:"reservationId"`   // payments.reservation_id
	TableNumber     int       `json:"tableNumber"`     // payments.table_number
	SlotTime        string    `json:"slotTime"`        // payments.slot_time
	Deducted        bool      `json:"deducted"`        // payments.deducted
	CreatedAt       time.Time `json:"createdAt"`       // payments.created_at
}
