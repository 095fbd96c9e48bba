// Package push delivers rendered notifications to a device through an
// external push gateway.
package push

import (
	"context"
	"errors"
	"fmt"

	"notifyengine/internal/model"
	"notifyengine/pkg/circuitbreaker"
	"notifyengine/pkg/util"
)

// Error codes recorded on delivery attempts.
const (
	CodeUnregisteredToken = "UnregisteredToken"
	CodeNoDeliveryTarget  = "NoDeliveryTarget"
	CodeRateLimited       = "RateLimited"
	CodeUnavailable       = "Unavailable"
	CodeTimeout           = "Timeout"
	CodeNetwork           = "NetworkError"
	CodeCircuitOpen       = "CircuitOpen"
	CodeInvalidRequest    = "InvalidRequest"
	CodeClaimTimeout      = "ClaimTimeout"
	CodeUnknown           = "Unknown"
)

// Message is one send to one device.
type Message struct {
	DeviceToken string            `json:"token"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Priority    model.Priority    `json:"priority,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

// Transport sends a message. Failures should be *Error; anything else is
// classified by Classify.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Error is a delivery failure. Permanent failures will not heal on retry,
// but are still retried within the attempt budget.
type Error struct {
	Code      string
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(code string, err error) *Error {
	return &Error{Code: code, Permanent: code == CodeUnregisteredToken, Err: err}
}

// Classify maps any error to a delivery error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return NewError(CodeCircuitOpen, err)
	}

	_, kind := util.ClassifyError(err)
	switch kind {
	case util.KindTimeout, util.KindNetworkTimeout:
		return NewError(CodeTimeout, err)
	case util.KindNetwork, util.KindDBConnection:
		return NewError(CodeNetwork, err)
	case util.KindDecode:
		return NewError(CodeInvalidRequest, err)
	default:
		return NewError(CodeUnknown, err)
	}
}
