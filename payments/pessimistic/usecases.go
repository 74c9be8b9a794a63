package pessimistic

import "context"

// The use cases are thin compositions over the repository and the
// gateway: load, mutate, persist. Retry policy lives with the caller.

// CreatePaymentIntent creates and persists a new payment intent.
func CreatePaymentIntent(ctx context.Context, repository Repository, customerID string, amount int64, currency string) (*PaymentIntent, error) {
	paymentIntent := Create(customerID, amount, currency)
	if err := repository.Create(ctx, paymentIntent); err != nil {
		return nil, err
	}
	return paymentIntent, nil
}

// GetPaymentIntent loads a payment intent by id.
func GetPaymentIntent(ctx context.Context, repository Repository, paymentIntentID string) (*PaymentIntent, error) {
	return repository.Get(ctx, paymentIntentID)
}

// ChargePaymentIntent charges the payment intent through the gateway,
// serialized by the item lock so the gateway sees at most one charge
// attempt under contention. A concurrent caller observes either a
// *lock.AcquisitionError (lock still held) or, arriving after release, a
// *StateError from the already-terminal intent.
func ChargePaymentIntent(ctx context.Context, repository Repository, gateway PaymentGateway, paymentIntentID string) (*PaymentIntent, error) {
	// Fail fast before taking the lock if the intent does not exist.
	if _, err := repository.Get(ctx, paymentIntentID); err != nil {
		return nil, err
	}

	var charged *PaymentIntent
	err := repository.WithLockedIntent(ctx, paymentIntentID, func(ctx context.Context, paymentIntent *PaymentIntent) error {
		if err := paymentIntent.DoCharge(ctx, gateway); err != nil {
			return err
		}
		if err := repository.Update(ctx, paymentIntent); err != nil {
			return err
		}
		charged = paymentIntent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return charged, nil
}
