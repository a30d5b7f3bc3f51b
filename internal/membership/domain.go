// internal/membership/domain.go
package membership

import (
	"time"

	"github.com/google/uuid"
)

// Role is stored on the member record and carried in tokens.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleAdmin
}

// Capability names an action that requires more than being signed in.
type Capability string

const (
	CapManageOrders  Capability = "orders:manage"
	CapManageCatalog Capability = "catalog:manage"
)

var roleCapabilities = map[Role][]Capability{
	RoleAdmin: {CapManageOrders, CapManageCatalog},
}

// Member represents a community member who can rent listings.
type Member struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Role      Role      `json:"role" db:"role"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Credential represents a member's login credentials.
type Credential struct {
	MemberID     uuid.UUID `db:"member_id"`
	PasswordHash string    `db:"password_hash"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

// Can reports whether the principal's role grants c.
func (p Principal) Can(c Capability) bool {
	for _, granted := range roleCapabilities[p.Role] {
		if granted == c {
			return true
		}
	}
	return false
}
