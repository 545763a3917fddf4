package models

// User is the authenticated principal taken from the access token.
type User struct {
	ID    string
	Email string
}

// Role names stored in user_roles.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)
