package pessimistic

import (
	"context"
	"fmt"
)

// GatewayCharge is a successful charge outcome from the payment gateway.
type GatewayCharge struct {
	ID string
}

// GatewayError is a declined charge. It still carries the gateway's
// charge id, alongside the decline code and message.
type GatewayError struct {
	ChargeID     string
	ErrorCode    string
	ErrorMessage string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("charge %s declined: %s: %s", e.ChargeID, e.ErrorCode, e.ErrorMessage)
}

// PaymentGateway is the external charging capability. Implementations
// return a *GatewayError for a decline; any other error is a transport
// failure with no known outcome.
type PaymentGateway interface {
	Charge(ctx context.Context, paymentIntentID string, amount int64, currency string) (*GatewayCharge, error)
}
