package fulfillment

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	// ErrCodeAuthentication: bad or missing webhook signature.
	ErrCodeAuthentication ErrorCode = "authentication"
	// ErrCodeParse: payload that can never be parsed; acknowledged so the provider stops retrying.
	ErrCodeParse ErrorCode = "parse"
	// ErrCodeUnmatched: no order corresponds to the event.
	ErrCodeUnmatched ErrorCode = "unmatched"
	// ErrCodeConflict: order already in a terminal state for this kind of event.
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeAllocationExhausted: no stock left; triggers a fallback key.
	ErrCodeAllocationExhausted ErrorCode = "allocation_exhausted"
	// ErrCodeStoreUnavailable: the backing store failed; the provider must retry.
	ErrCodeStoreUnavailable ErrorCode = "store_unavailable"
)

type Error struct {
	Code    ErrorCode
	Message string
	OrderID string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Code) + ": " + e.Message
	if e.OrderID != "" {
		msg += " (order " + e.OrderID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewAuthenticationError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeAuthentication, Message: fmt.Sprintf(format, args...)}
}

func NewParseError(err error, format string, args ...any) *Error {
	return &Error{Code: ErrCodeParse, Message: fmt.Sprintf(format, args...), Err: err}
}

func NewUnmatchedError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeUnmatched, Message: fmt.Sprintf(format, args...)}
}

func NewConflictError(orderID string, format string, args ...any) *Error {
	return &Error{Code: ErrCodeConflict, OrderID: orderID, Message: fmt.Sprintf(format, args...)}
}

func NewAllocationExhaustedError(orderID, productID string) *Error {
	return &Error{
		Code:    ErrCodeAllocationExhausted,
		OrderID: orderID,
		Message: fmt.Sprintf("no stock left for product %s", productID),
	}
}

func NewStoreUnavailableError(err error, format string, args ...any) *Error {
	return &Error{Code: ErrCodeStoreUnavailable, Message: fmt.Sprintf(format, args...), Err: err}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func IsAuthentication(err error) bool { return hasCode(err, ErrCodeAuthentication) }

func IsParse(err error) bool { return hasCode(err, ErrCodeParse) }

func IsUnmatched(err error) bool { return hasCode(err, ErrCodeUnmatched) }

func IsConflict(err error) bool { return hasCode(err, ErrCodeConflict) }

func IsAllocationExhausted(err error) bool { return hasCode(err, ErrCodeAllocationExhausted) }

func IsStoreUnavailable(err error) bool { return hasCode(err, ErrCodeStoreUnavailable) }
