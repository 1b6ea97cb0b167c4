package api

import (
	stdhttp "net/http"

	intconfig "sacco/internal/config"
	h "sacco/internal/http/handlers"
	"sacco/internal/http/middleware"
	"sacco/internal/utils"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const serviceName = "sacco-engine"

func NewRouter(env intconfig.Env, handler *h.Handler) *gin.Engine {
	r := gin.New()
	r.Use(
		otelgin.Middleware(serviceName),
		middleware.RequestID(),
		middleware.Logger(),
		gin.Recovery(),
		middleware.CORS(),
	)

	if err := r.SetTrustedProxies(nil); err != nil {
		utils.Logger().Warn("failed to set trusted proxies", zap.Error(err))
	}

	r.OPTIONS("/*path", func(c *gin.Context) { c.AbortWithStatus(stdhttp.StatusNoContent) })

	r.NoRoute(func(c *gin.Context) {
		c.JSON(stdhttp.StatusNotFound, gin.H{
			"error":  "route not found",
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	})

	r.GET("/health", h.Health)
	r.GET("/db-check", h.DBCheck)

	auth := r.Group("/auth")
	auth.POST("/login", handler.Login)

	finance := r.Group("/finance")
	// the provider cannot present a bearer token
	finance.POST("/mpesa/callback", handler.MpesaCallback)

	secured := finance.Group("", middleware.Auth([]byte(env.JWTSecret)))
	{
		secured.POST("/applyLoan", handler.ApplyLoan)
		secured.GET("/pendingLoans", handler.PendingLoans)

		staff := secured.Group("", middleware.RequireStaff())
		staff.POST("/approveLoan", handler.ApproveLoan)
		staff.POST("/approveEmergencyLoan", handler.ApproveEmergencyLoan)
		staff.POST("/disapproveLoan", handler.DisapproveLoan)
		staff.POST("/disapproveEmergencyLoan", handler.DisapproveEmergencyLoan)

		secured.POST("/processPayment", middleware.RateLimit(env.PaymentRateLimit), handler.ProcessPayment)
		secured.GET("/checkPaymentStatus", handler.CheckPaymentStatus)
		secured.POST("/reconcilePayment", handler.ReconcilePayment)

		secured.GET("/savings/total", handler.SavingsTotal)
		secured.GET("/loans/total", handler.LoansTotal)
		secured.GET("/financialStatus", handler.FinancialStatus)
	}

	return r
}
