package model

// Role distinguishes storefront visitors from back-office operators.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Other returns the opposite role. Used when marking the counterparty's
// messages read.
func (r Role) Other() Role {
	if r == RoleAdmin {
		return RoleUser
	}
	return RoleAdmin
}

// Identity is the verified principal handed to us by the auth layer.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
