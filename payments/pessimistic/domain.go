// Package pessimistic implements a payment-intent aggregate whose charge
// transition is serialized with the item-level pessimistic lock: the
// external gateway call happens inside the critical section, so at most
// one charge attempt reaches the gateway under contention.
package pessimistic

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// State is the lifecycle state of a payment intent.
type State string

const (
	StateCreated      State = "CREATED"
	StateCharged      State = "CHARGED"
	StateChargeFailed State = "CHARGE_FAILED"
)

// NotFoundError is returned when no payment intent exists for an id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("payment intent %s not found", e.ID)
}

// IdentifierCollisionError is returned by a create that found an existing
// payment intent with the same id.
type IdentifierCollisionError struct {
	ID string
}

func (e *IdentifierCollisionError) Error() string {
	return fmt.Sprintf("payment intent %s already exists", e.ID)
}

// StateError is returned for an attempted transition that the state
// machine does not declare from the current state.
type StateError struct {
	Current State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("payment intent is not in a chargeable state: %s", e.Current)
}

// Charge records the outcome of a gateway charge attempt. ErrorCode and
// ErrorMessage are set only for a declined charge.
type Charge struct {
	ID           string `json:"id"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// PaymentIntent is the aggregate. Its fields are only mutated through the
// declared transitions; the repository in this package reconstructs it
// from storage.
type PaymentIntent struct {
	id         string
	state      State
	customerID string
	amount     int64
	currency   string
	charge     *Charge
}

// Create makes a new payment intent in the CREATED state.
func Create(customerID string, amount int64, currency string) *PaymentIntent {
	return &PaymentIntent{
		id:         uuid.NewString(),
		state:      StateCreated,
		customerID: customerID,
		amount:     amount,
		currency:   currency,
	}
}

func (pi *PaymentIntent) ID() string         { return pi.id }
func (pi *PaymentIntent) State() State       { return pi.state }
func (pi *PaymentIntent) CustomerID() string { return pi.customerID }
func (pi *PaymentIntent) Amount() int64      { return pi.amount }
func (pi *PaymentIntent) Currency() string   { return pi.currency }
func (pi *PaymentIntent) Charge() *Charge    { return pi.charge }

// DoCharge attempts to charge the intent through the gateway. Only a
// CREATED intent may be charged. A gateway acceptance moves the intent to
// CHARGED; a gateway decline moves it to CHARGE_FAILED with the decline
// details attached — a decline is a terminal state transition, not an
// error. A transport failure leaves the state untouched and propagates.
func (pi *PaymentIntent) DoCharge(ctx context.Context, gateway PaymentGateway) error {
	if pi.state != StateCreated {
		return &StateError{Current: pi.state}
	}

	charge, err := gateway.Charge(ctx, pi.id, pi.amount, pi.currency)
	if err != nil {
		var declined *GatewayError
		if errors.As(err, &declined) {
			pi.state = StateChargeFailed
			pi.charge = &Charge{
				ID:           declined.ChargeID,
				ErrorCode:    declined.ErrorCode,
				ErrorMessage: declined.ErrorMessage,
			}
			return nil
		}
		return err
	}

	pi.state = StateCharged
	pi.charge = &Charge{ID: charge.ID}
	return nil
}
