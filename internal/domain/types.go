package domain

// ID is used across domain entities.
type ID int64

// Roles carried in access tokens.
const (
	RoleMember  = "member"
	RoleFinance = "finance"
	RoleAdmin   = "admin"
)

// RequestContext carries authenticated user info when available.
type RequestContext struct {
	UserID ID     `json:"userId"`
	Role   string `json:"role"`
}

// IsStaff reports whether the caller may act on other members' loans.
func (r RequestContext) IsStaff() bool {
	return r.Role == RoleAdmin || r.Role == RoleFinance
}
