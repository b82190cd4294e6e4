// Package payment wraps the payment provider used to collect the
// reservation fee.
package payment

import (
	"context"
	"errors"
)

// StatusSucceeded is the only intent status that settles a reservation.
const StatusSucceeded = "succeeded"

// ErrIntentNotFound is returned by Retrieve for unknown intent ids.
var ErrIntentNotFound = errors.New("payment intent not found")

// Intent is the provider-neutral view of a payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64 // minor units
	Currency     string
	Status       string
}

// Gateway creates and looks up payment intents.
type Gateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string) (Intent, error)
	Retrieve(ctx context.Context, id string) (Intent, error)
}

// ToMinor converts a major-unit amount (rupees) to minor units (paise).
func ToMinor(major int64) int64 { return major * 100 }
