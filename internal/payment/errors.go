package payment

import "net/http"

// Error is a domain error with a stable code, an HTTP status and the affected
// payment id. Handlers surface it verbatim as a structured response.
type Error struct {
	Code       string
	Message    string
	HTTPStatus int
	PaymentID  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// ErrNotFoundFor reports a missing payment.
func ErrNotFoundFor(id string) *Error {
	return &Error{Code: "PAYMENT_NOT_FOUND", Message: "payment not found", HTTPStatus: http.StatusNotFound, PaymentID: id}
}

// ErrAlreadyProcessed reports a payment in a terminal state.
func ErrAlreadyProcessed(id string) *Error {
	return &Error{Code: "PAYMENT_ALREADY_PROCESSED", Message: "payment already processed", HTTPStatus: http.StatusConflict, PaymentID: id}
}

// ErrExpired reports a payment past its checkout window.
func ErrExpired(id string) *Error {
	return &Error{Code: "PAYMENT_EXPIRED", Message: "payment expired", HTTPStatus: http.StatusGone, PaymentID: id}
}

// ErrInsufficientFunds reports a declined card.
func ErrInsufficientFunds(id string) *Error {
	return &Error{Code: "INSUFFICIENT_FUNDS", Message: "insufficient funds", HTTPStatus: http.StatusPaymentRequired, PaymentID: id}
}

// ErrInvalidOTP reports a failed OTP validation.
func ErrInvalidOTP(id string) *Error {
	return &Error{Code: "INVALID_OTP", Message: "invalid confirmation code", HTTPStatus: http.StatusUnauthorized, PaymentID: id}
}

// ErrCSRFMismatch reports a failed anti-forgery check.
func ErrCSRFMismatch(id string) *Error {
	return &Error{Code: "CSRF_TOKEN_MISMATCH", Message: "csrf token mismatch", HTTPStatus: http.StatusForbidden, PaymentID: id}
}

// ErrInvalidState reports an operation applied to a payment in the wrong state.
func ErrInvalidState(id string) *Error {
	return &Error{Code: "INVALID_PAYMENT_STATE", Message: "payment is not in a valid state for this operation", HTTPStatus: http.StatusBadRequest, PaymentID: id}
}

// ErrOTPAttemptsExceeded reports that the OTP retry bound was hit.
func ErrOTPAttemptsExceeded(id string) *Error {
	return &Error{Code: "OTP_ATTEMPTS_EXCEEDED", Message: "too many confirmation attempts", HTTPStatus: http.StatusTooManyRequests, PaymentID: id}
}
