package handlers

import (
	"errors"
	"net/http"

	"sacco/internal/domain"
	"sacco/internal/http/middleware"
	"sacco/internal/services"
	"sacco/internal/utils"

	"github.com/gin-gonic/gin"
)

// ErrorResponse standardizes error payloads.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func respondError(c *gin.Context, status int, code, message string, details any) {
	if code == "" {
		code = http.StatusText(status)
	}
	c.JSON(status, ErrorResponse{
		Error:     message,
		Code:      code,
		Details:   details,
		RequestID: middleware.GetRequestID(c),
	})
}

// RespondDomainError maps domain errors to HTTP responses.
func RespondDomainError(c *gin.Context, err error) {
	var (
		rule    domain.BusinessRuleError
		payment domain.PaymentError
	)
	switch {
	case domain.IsValidation(err):
		respondError(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.As(err, &rule):
		var details any
		if rule.MemberID > 0 {
			details = gin.H{"member_id": rule.MemberID}
		}
		respondError(c, http.StatusBadRequest, rule.Rule, err.Error(), details)
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case domain.IsConflict(err):
		respondError(c, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.As(err, &payment):
		details := gin.H{"CheckoutRequestID": payment.CheckoutRequestID}
		if errors.Is(err, domain.ErrPaymentTimeout) {
			c.JSON(http.StatusAccepted, gin.H{
				"message":           "payment not yet confirmed; check status again later",
				"status":            "initiated",
				"CheckoutRequestID": payment.CheckoutRequestID,
				"request_id":        middleware.GetRequestID(c),
			})
			return
		}
		respondError(c, http.StatusUnprocessableEntity, "payment_failed", err.Error(), details)
	case domain.IsGateway(err):
		utils.LogError(middleware.GetRequestID(c), "http", "gateway", err)
		respondError(c, http.StatusBadGateway, "gateway_error", "payment provider unavailable", nil)
	case errors.Is(err, services.ErrBadCredentials):
		respondError(c, http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	default:
		utils.LogError(middleware.GetRequestID(c), "http", "unhandled", err)
		respondError(c, http.StatusInternalServerError, "internal_error", "internal server error", nil)
	}
}
