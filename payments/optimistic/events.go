package optimistic

import (
	"encoding/json"

	"github.com/Invicton-Labs/go-dynamodb-concurrency/events"
	"github.com/Invicton-Labs/go-stackerr"
)

// AggregateName tags every event envelope emitted by this aggregate.
const AggregateName = "PaymentIntent"

// Event names, stored in the envelope and repeated inside the payload.
const (
	EventNameChargeRequested = "PaymentIntentChargeRequested"
	EventNameCharged         = "PaymentIntentCharged"
	EventNameChargeFailed    = "PaymentIntentChargeFailed"
)

// Event is a domain event emitted by the payment intent. Implementations
// are tagged variants keyed by their Name field; the payload is the JSON
// form of the variant itself.
type Event interface {
	EventID() string
	EventName() string
	// Envelope lifts the event into its stored form.
	Envelope() (events.Envelope, stackerr.Error)
}

func envelopeFor(event Event, paymentIntentID string) (events.Envelope, stackerr.Error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return events.Envelope{}, stackerr.Wrap(err)
	}
	return events.New(event.EventID(), event.EventName(), paymentIntentID, AggregateName, payload), nil
}

// ChargeRequested signals that the intent wants to be charged; the
// downstream charger picks it up and calls the gateway.
type ChargeRequested struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PaymentIntentID string `json:"payment_intent_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

func (e *ChargeRequested) EventID() string   { return e.ID }
func (e *ChargeRequested) EventName() string { return e.Name }
func (e *ChargeRequested) Envelope() (events.Envelope, stackerr.Error) {
	return envelopeFor(e, e.PaymentIntentID)
}

// Charged signals that the gateway accepted the charge.
type Charged struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PaymentIntentID string `json:"payment_intent_id"`
	ChargeID        string `json:"charge_id"`
}

func (e *Charged) EventID() string   { return e.ID }
func (e *Charged) EventName() string { return e.Name }
func (e *Charged) Envelope() (events.Envelope, stackerr.Error) {
	return envelopeFor(e, e.PaymentIntentID)
}

// ChargeFailed signals that the gateway declined the charge.
type ChargeFailed struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PaymentIntentID string `json:"payment_intent_id"`
	ChargeID        string `json:"charge_id"`
	ErrorCode       string `json:"error_code"`
	ErrorMessage    string `json:"error_message"`
}

func (e *ChargeFailed) EventID() string   { return e.ID }
func (e *ChargeFailed) EventName() string { return e.Name }
func (e *ChargeFailed) Envelope() (events.Envelope, stackerr.Error) {
	return envelopeFor(e, e.PaymentIntentID)
}
