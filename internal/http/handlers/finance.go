package handlers

import (
	"net/http"
	"strings"

	"sacco/internal/domain/models"
	"sacco/internal/http/middleware"
	"sacco/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type applyLoanRequest struct {
	MatatuID      *int64          `json:"matatuId"`
	AmountApplied decimal.Decimal `json:"amountApplied"`
	LoanType      string          `json:"loanType"`
	Guarantors    []int64         `json:"guarantors"`
}

type approveLoanRequest struct {
	LoanID       int64           `json:"loanId"`
	AmountIssued decimal.Decimal `json:"amountIssued"`
}

type disapproveLoanRequest struct {
	LoanID int64  `json:"loanId"`
	Reason string `json:"reason"`
}

type processPaymentRequest struct {
	Amount                    decimal.Decimal `json:"amount"`
	Phone                     string          `json:"phone"`
	VehicleRegistrationNumber string          `json:"vehicleRegistrationNumber"`
	MatatuID                  int64           `json:"matatu_id"`
}

type reconcileRequest struct {
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// POST /finance/applyLoan
func (h *Handler) ApplyLoan(c *gin.Context) {
	var req applyLoanRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	caller := middleware.GetCaller(c)
	loan, err := h.Loans.ApplyLoan(c.Request.Context(), models.LoanApplication{
		ApplicantID: int64(caller.UserID),
		Type:        models.LoanType(strings.ToLower(strings.TrimSpace(req.LoanType))),
		VehicleID:   req.MatatuID,
		Amount:      req.AmountApplied,
		Guarantors:  req.Guarantors,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "loan application submitted", "loanId": loan.ID})
}

// GET /finance/pendingLoans
func (h *Handler) PendingLoans(c *gin.Context) {
	loans, err := h.Loans.PendingLoans(c.Request.Context(), middleware.GetCaller(c))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	if loans == nil {
		loans = []models.Loan{}
	}
	c.JSON(http.StatusOK, loans)
}

func (h *Handler) approve(expected models.LoanType) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req approveLoanRequest
		if !BindJSONOrError(c, &req) {
			return
		}
		loan, err := h.Loans.ApproveLoan(c.Request.Context(), req.LoanID, req.AmountIssued, expected)
		if err != nil {
			RespondDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "loan approved and disbursed", "loan": loan})
	}
}

func (h *Handler) disapprove(expected models.LoanType) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req disapproveLoanRequest
		if !BindJSONOrError(c, &req) {
			return
		}
		loan, err := h.Loans.DisapproveLoan(c.Request.Context(), req.LoanID, req.Reason, expected)
		if err != nil {
			RespondDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "loan disapproved", "loan": loan})
	}
}

// POST /finance/approveLoan
func (h *Handler) ApproveLoan(c *gin.Context) { h.approve(models.LoanNormal)(c) }

// POST /finance/approveEmergencyLoan
func (h *Handler) ApproveEmergencyLoan(c *gin.Context) { h.approve(models.LoanEmergency)(c) }

// POST /finance/disapproveLoan
func (h *Handler) DisapproveLoan(c *gin.Context) { h.disapprove(models.LoanNormal)(c) }

// POST /finance/disapproveEmergencyLoan
func (h *Handler) DisapproveEmergencyLoan(c *gin.Context) { h.disapprove(models.LoanEmergency)(c) }

// POST /finance/processPayment
func (h *Handler) ProcessPayment(c *gin.Context) {
	var req processPaymentRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	ctx := c.Request.Context()
	p, err := h.Collections.InitiateCollection(ctx, services.CollectionInput{
		VehicleID:          req.MatatuID,
		RegistrationNumber: req.VehicleRegistrationNumber,
		Phone:              req.Phone,
		Amount:             req.Amount,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	h.Collections.ReconcileInBackground(ctx, p.CheckoutRequestID)
	c.JSON(http.StatusOK, gin.H{
		"message":           "payment request sent; confirm on your phone",
		"CheckoutRequestID": p.CheckoutRequestID,
	})
}

// GET /finance/checkPaymentStatus?CheckoutRequestID=
func (h *Handler) CheckPaymentStatus(c *gin.Context) {
	p, err := h.Collections.PollStatus(c.Request.Context(), c.Query("CheckoutRequestID"))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	resp := gin.H{"status": p.Status}
	if p.ReceiptNumber != "" {
		resp["mpesaReceiptNumber"] = p.ReceiptNumber
	}
	if p.ResultDesc != "" {
		resp["resultDesc"] = p.ResultDesc
	}
	c.JSON(http.StatusOK, resp)
}

// POST /finance/reconcilePayment
func (h *Handler) ReconcilePayment(c *gin.Context) {
	var req reconcileRequest
	if !BindJSONOrError(c, &req) {
		return
	}
	p, err := h.Collections.Reconcile(c.Request.Context(), strings.TrimSpace(req.CheckoutRequestID))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": p.Status, "mpesaReceiptNumber": p.ReceiptNumber})
}

// GET /finance/savings/total
func (h *Handler) SavingsTotal(c *gin.Context) {
	t, err := h.Loans.Totals(c.Request.Context())
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total_savings": t.Savings})
}

// GET /finance/loans/total
func (h *Handler) LoansTotal(c *gin.Context) {
	t, err := h.Loans.Totals(c.Request.Context())
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total_loans": t.OutstandingLoan})
}

// GET /finance/financialStatus?matatu_id=
func (h *Handler) FinancialStatus(c *gin.Context) {
	vehicleID, ok := queryInt64(c, "matatu_id")
	if !ok {
		return
	}
	st, err := h.Loans.FinancialStatus(c.Request.Context(), vehicleID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	if st.Loans == nil {
		st.Loans = []models.Loan{}
	}
	c.JSON(http.StatusOK, st)
}
