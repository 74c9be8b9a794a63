package pessimistic

import "context"

// Repository is the persistence capability for pessimistic payment
// intents. The charge workflow relies on WithLockedIntent for mutual
// exclusion; Get/Create/Update carry no version check.
type Repository interface {
	// Get returns the payment intent, or a *NotFoundError.
	Get(ctx context.Context, paymentIntentID string) (*PaymentIntent, error)

	// Create persists a new payment intent, failing with a
	// *IdentifierCollisionError if the id is already taken.
	Create(ctx context.Context, paymentIntent *PaymentIntent) error

	// Update persists the intent's current state, failing with a
	// *NotFoundError if the record has vanished.
	Update(ctx context.Context, paymentIntent *PaymentIntent) error

	// WithLockedIntent acquires the item lock on the payment intent,
	// re-reads it under the lock, and passes it to body. The lock is
	// released on all exit paths.
	WithLockedIntent(ctx context.Context, paymentIntentID string, body func(ctx context.Context, paymentIntent *PaymentIntent) error) error
}
