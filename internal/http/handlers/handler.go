package handlers

import (
	"sacco/internal/services"
)

// Handler carries the services behind the finance API.
type Handler struct {
	Loans       *services.LoanService
	Collections *services.CollectionService
	Auth        services.AuthService
}
