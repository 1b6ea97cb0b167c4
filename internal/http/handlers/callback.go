package handlers

import (
	"net/http"

	"sacco/internal/gateway"
	"sacco/internal/http/middleware"
	"sacco/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// POST /finance/mpesa/callback
//
// The provider retries on anything but a success acknowledgement, so
// unknown requests and store errors are still acknowledged after logging.
func (h *Handler) MpesaCallback(c *gin.Context) {
	var cb gateway.Callback
	if err := c.ShouldBindJSON(&cb); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", "invalid callback payload", nil)
		return
	}
	id, outcome, err := cb.Outcome()
	if err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}

	if _, err := h.Collections.HandleCallback(c.Request.Context(), id, outcome); err != nil {
		utils.LogError(middleware.GetRequestID(c), "payment", "callback", err, zap.String("checkout_request_id", id))
	}
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}
