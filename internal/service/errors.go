package service

import "errors"

// Kind classifies a service error so transports can pick a status code.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindForbidden
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindUnavailable:
		return "unavailable"
	}
	return "error"
}

// Error is a classified, client-facing failure.  Code is a stable machine
// identifier, Message is meant for people.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidTable          = newError(KindValidation, "invalid_table", "table number must be a positive integer")
	ErrInvalidCapacity       = newError(KindValidation, "invalid_capacity", "capacity must be a positive integer")
	ErrPaymentIntentRequired = newError(KindValidation, "payment_intent_required", "paymentIntentId is required")
	ErrSameTable             = newError(KindValidation, "same_table", "old and new table numbers must differ")
	ErrInvalidAmount         = newError(KindValidation, "invalid_amount", "amount must be a positive integer")
	ErrInvalidUser           = newError(KindValidation, "invalid_user", "userId is required")

	ErrSlotNotFound = newError(KindNotFound, "slot_not_found", "slot not found")
	ErrUserNotFound = newError(KindNotFound, "user_not_found", "user not found")

	ErrAlreadyReserved       = newError(KindConflict, "already_reserved", "table is already reserved")
	ErrSlotDisabled          = newError(KindConflict, "slot_disabled", "table is disabled")
	ErrNotReserved           = newError(KindConflict, "not_reserved", "table is not reserved")
	ErrCapacityMismatch      = newError(KindConflict, "capacity_mismatch", "new table capacity does not match the reserved table")
	ErrTableExists           = newError(KindConflict, "table_exists", "table already exists in this slot")
	ErrPaymentIntentUsed     = newError(KindConflict, "payment_intent_used", "payment intent has already been used")
	ErrPaymentNotSettled     = newError(KindConflict, "payment_not_settled", "payment has not succeeded")
	ErrPaymentAmountMismatch = newError(KindConflict, "payment_amount_mismatch", "payment does not match the reservation fee")
	ErrNotOwner              = newError(KindForbidden, "not_owner", "only the reserving user or an admin can change this reservation")
	ErrPaymentsDisabled      = newError(KindUnavailable, "payments_disabled", "payment gateway is not configured")
)

// KindOf returns the classification of err, KindUnknown for plain errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}
