package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "initiated"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentTimedOut  PaymentStatus = "timed_out"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed || s == PaymentTimedOut
}

// PaymentRequest is one mobile-money collection, keyed by the gateway's CheckoutRequestID.
type PaymentRequest struct {
	CheckoutRequestID string          `json:"CheckoutRequestID"`
	VehicleID         int64           `json:"matatu_id"`
	Amount            decimal.Decimal `json:"amount"`
	Phone             string          `json:"phone"`
	AccountReference  string          `json:"vehicleRegistrationNumber,omitempty"`
	Status            PaymentStatus   `json:"status"`
	ReceiptNumber     string          `json:"mpesaReceiptNumber,omitempty"`
	ResultDesc        string          `json:"resultDesc,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// PaymentOutcome is what the gateway reports for a collection.
type PaymentOutcome struct {
	Status        PaymentStatus
	ReceiptNumber string
	ResultDesc    string
}
