package optimistic

import (
	"context"

	"github.com/Invicton-Labs/go-dynamodb-concurrency/events"
)

// Repository is the persistence capability for optimistic payment
// intents. It never retries: the OCC conflict surfaces as a
// *OptimisticLockError and all retry policy lives above it.
type Repository interface {
	// Get returns the payment intent at its stored version with no
	// pending events, or a *NotFoundError. The read is strongly
	// consistent; an eventually-consistent read would race the version
	// check.
	Get(ctx context.Context, paymentIntentID string) (*PaymentIntent, error)

	// Create persists a new payment intent at version 0, failing with a
	// *IdentifierCollisionError if the id is already taken.
	Create(ctx context.Context, paymentIntent *PaymentIntent) error

	// Update atomically advances the stored version from the version the
	// aggregate was loaded at, writes the changed attributes, and
	// appends the pending events. Fails with *NotFoundError,
	// *OptimisticLockError or *EventCollisionError; on any failure
	// nothing is written.
	Update(ctx context.Context, paymentIntent *PaymentIntent) error

	// GetEvent reads back a stored event envelope, for downstream
	// pollers. Returns nil if the event does not exist.
	GetEvent(ctx context.Context, paymentIntentID, eventID string) (*events.Envelope, error)
}
