package checkout

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("invalid order request")
	ErrOrderNotFound  = errors.New("order not found")
)

// GatewayError wraps a payment-intent failure. The order and its stock
// reservation were rolled back; nothing is committed when this is returned.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway: %v", e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
