// Package optimistic implements a versioned payment-intent aggregate
// persisted with optimistic concurrency control: every update advances a
// version counter under a conditional check, and the aggregate's emitted
// domain events are appended in the same transaction, so state and
// events commit all-or-nothing.
package optimistic

import (
	"fmt"

	"github.com/google/uuid"
)

// State is the lifecycle state of a payment intent.
type State string

const (
	StateCreated         State = "CREATED"
	StateChargeRequested State = "CHARGE_REQUESTED"
	StateCharged         State = "CHARGED"
	StateChargeFailed    State = "CHARGE_FAILED"
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

// OptimisticLockError is returned when an update lost the race: the
// stored version no longer matches the version the aggregate was loaded
// at. The store is untouched; the caller decides whether to reload and
// retry.
type OptimisticLockError struct {
	ID string
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("payment intent %s was concurrently modified", e.ID)
}

// EventCollisionError is returned when an update tried to append an
// event id that already exists under the aggregate. The previously
// stored envelope is left intact.
type EventCollisionError struct {
	EventID string
}

func (e *EventCollisionError) Error() string {
	return fmt.Sprintf("event %s already exists for this payment intent", e.EventID)
}

// StateError is returned for an attempted transition that the state
// machine does not declare from the current state.
type StateError struct {
	Current State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("operation not allowed in payment intent state: %s", e.Current)
}

// Charge records the outcome of the gateway charge. ErrorCode and
// ErrorMessage are set only for a failed charge.
type Charge struct {
	ID           string `json:"id"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// GatewayResult is the gateway's response to a requested charge, handed
// to the aggregate by whatever is polling for responses.
type GatewayResult struct {
	ChargeID     string
	ErrorCode    string
	ErrorMessage string
	Failed       bool
}

// PaymentIntent is the aggregate. Version is the version the aggregate
// was loaded at (0 for a fresh one) and is never advanced in memory —
// callers observe a successful update by reloading. Events holds the
// domain events emitted since the load, pending persistence.
type PaymentIntent struct {
	id         string
	state      State
	customerID string
	amount     int64
	currency   string
	charge     *Charge
	version    int64
	events     []Event
}

// Create makes a new payment intent in the CREATED state at version 0.
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
func (pi *PaymentIntent) Version() int64     { return pi.version }

// Events returns the domain events emitted since the aggregate was
// loaded, in emission order.
func (pi *PaymentIntent) Events() []Event {
	return pi.events
}

// ChangeAmount changes the amount to be charged. Only allowed before a
// charge has been requested.
func (pi *PaymentIntent) ChangeAmount(amount int64) error {
	if pi.state != StateCreated {
		return &StateError{Current: pi.state}
	}
	pi.amount = amount
	return nil
}

// RequestCharge asks for the intent to be charged, emitting a
// PaymentIntentChargeRequested event for the downstream charger.
func (pi *PaymentIntent) RequestCharge() error {
	if pi.state != StateCreated {
		return &StateError{Current: pi.state}
	}
	pi.state = StateChargeRequested
	pi.events = append(pi.events, &ChargeRequested{
		ID:              uuid.NewString(),
		Name:            EventNameChargeRequested,
		PaymentIntentID: pi.id,
		Amount:          pi.amount,
		Currency:        pi.currency,
	})
	return nil
}

// HandleChargeResponse applies the gateway's response to a requested
// charge, moving the intent to its terminal state and recording the
// charge outcome.
func (pi *PaymentIntent) HandleChargeResponse(result GatewayResult) error {
	if pi.state != StateChargeRequested {
		return &StateError{Current: pi.state}
	}
	if result.Failed {
		pi.state = StateChargeFailed
		pi.charge = &Charge{
			ID:           result.ChargeID,
			ErrorCode:    result.ErrorCode,
			ErrorMessage: result.ErrorMessage,
		}
		pi.events = append(pi.events, &ChargeFailed{
			ID:              uuid.NewString(),
			Name:            EventNameChargeFailed,
			PaymentIntentID: pi.id,
			ChargeID:        result.ChargeID,
			ErrorCode:       result.ErrorCode,
			ErrorMessage:    result.ErrorMessage,
		})
		return nil
	}

	pi.state = StateCharged
	pi.charge = &Charge{ID: result.ChargeID}
	pi.events = append(pi.events, &Charged{
		ID:              uuid.NewString(),
		Name:            EventNameCharged,
		PaymentIntentID: pi.id,
		ChargeID:        result.ChargeID,
	})
	return nil
}
