package domain

import (
	"errors"
	"fmt"
)

// Sentinels matched with errors.Is through the typed errors below.
var (
	ErrInvalidPhone    = errors.New("invalid phone")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrMissingVehicle  = errors.New("vehicle required")
	ErrMissingReason   = errors.New("reason required")
	ErrInvalidLoanType = errors.New("invalid loan type")
	ErrVehicleNotOwned = errors.New("vehicle not owned by applicant")

	ErrInsufficientSavings      = errors.New("insufficient savings")
	ErrDuplicatePendingLoan     = errors.New("duplicate pending loan")
	ErrDuplicateEmergencyLoan   = errors.New("duplicate emergency loan")
	ErrEmergencyCeilingExceeded = errors.New("emergency loan ceiling exceeded")
	ErrInvalidGuarantor         = errors.New("invalid guarantor")
	ErrLoanNotPending           = errors.New("loan not pending")

	ErrPaymentTimeout = errors.New("payment timeout")
	ErrPaymentFailed  = errors.New("payment failed")
)

type NotFoundError struct {
	Resource string
	Err      error
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e NotFoundError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e ValidationError) Error() string {
	if e.Msg != "" && e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return "validation error"
}

func (e ValidationError) Unwrap() error { return e.Err }

// BusinessRuleError is a well-formed request that the lending rules refuse.
type BusinessRuleError struct {
	Rule string
	Msg  string
	// MemberID names the offending member for guarantor failures.
	MemberID int64
	Err      error
}

func (e BusinessRuleError) Error() string {
	switch {
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	case e.Rule != "":
		return e.Rule
	default:
		return "business rule violation"
	}
}

func (e BusinessRuleError) Unwrap() error { return e.Err }

type ConflictError struct {
	Resource string
	Msg      string
	Err      error
}

func (e ConflictError) Error() string {
	switch {
	case e.Msg != "" && e.Resource != "":
		return fmt.Sprintf("%s conflict: %s", e.Resource, e.Msg)
	case e.Msg != "":
		return e.Msg
	case e.Resource != "":
		return fmt.Sprintf("%s conflict", e.Resource)
	default:
		return "conflict"
	}
}

func (e ConflictError) Unwrap() error { return e.Err }

// GatewayError is a failure talking to the mobile-money provider.
type GatewayError struct {
	Op  string
	Err error
}

func (e GatewayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway %s failed", e.Op)
	}
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e GatewayError) Unwrap() error { return e.Err }

// PaymentError reports the outcome of a reconciliation that did not complete.
type PaymentError struct {
	CheckoutRequestID string
	Desc              string
	Err               error
}

func (e PaymentError) Error() string {
	msg := "payment error"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Desc != "" {
		msg += ": " + e.Desc
	}
	if e.CheckoutRequestID != "" {
		msg += " (" + e.CheckoutRequestID + ")"
	}
	return msg
}

func (e PaymentError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

func IsBusinessRule(err error) bool {
	var target BusinessRuleError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

func IsGateway(err error) bool {
	var target GatewayError
	return errors.As(err, &target)
}
