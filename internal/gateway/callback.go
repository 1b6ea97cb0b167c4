package gateway

import (
	"fmt"
	"strconv"
	"strings"

	"sacco/internal/domain/models"
)

// Callback is the provider's asynchronous confirmation body.
type Callback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []CallbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// Outcome extracts the CheckoutRequestID and the terminal outcome.
func (cb Callback) Outcome() (string, models.PaymentOutcome, error) {
	stk := cb.Body.StkCallback
	id := strings.TrimSpace(stk.CheckoutRequestID)
	if id == "" {
		return "", models.PaymentOutcome{}, fmt.Errorf("callback without CheckoutRequestID")
	}

	out := outcomeFromResult(strconv.Itoa(stk.ResultCode), stk.ResultDesc, "")
	for _, item := range stk.CallbackMetadata.Item {
		if item.Name == "MpesaReceiptNumber" {
			out.ReceiptNumber = fmt.Sprint(item.Value)
		}
	}
	return id, out, nil
}
