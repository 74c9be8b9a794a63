package optimistic

import "context"

// The use cases are thin load → mutate → persist compositions. None of
// them retries on *OptimisticLockError; the conflict is surfaced so the
// caller can decide whether to reload and reapply.

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

// ChangePaymentIntentAmount changes the amount of a not-yet-requested
// payment intent.
func ChangePaymentIntentAmount(ctx context.Context, repository Repository, paymentIntentID string, amount int64) (*PaymentIntent, error) {
	paymentIntent, err := repository.Get(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}
	if err := paymentIntent.ChangeAmount(amount); err != nil {
		return nil, err
	}
	if err := repository.Update(ctx, paymentIntent); err != nil {
		return nil, err
	}
	return paymentIntent, nil
}

// RequestPaymentIntentCharge moves the payment intent to
// CHARGE_REQUESTED and persists the emitted charge-request event
// atomically with the state change.
func RequestPaymentIntentCharge(ctx context.Context, repository Repository, paymentIntentID string) (*PaymentIntent, error) {
	paymentIntent, err := repository.Get(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}
	if err := paymentIntent.RequestCharge(); err != nil {
		return nil, err
	}
	if err := repository.Update(ctx, paymentIntent); err != nil {
		return nil, err
	}
	return paymentIntent, nil
}

// ProcessChargeResponse applies the gateway's response to a requested
// charge, persisting the terminal state and the change-of-state event.
func ProcessChargeResponse(ctx context.Context, repository Repository, paymentIntentID string, result GatewayResult) (*PaymentIntent, error) {
	paymentIntent, err := repository.Get(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}
	if err := paymentIntent.HandleChargeResponse(result); err != nil {
		return nil, err
	}
	if err := repository.Update(ctx, paymentIntent); err != nil {
		return nil, err
	}
	return paymentIntent, nil
}
