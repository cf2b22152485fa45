package shared

// Role enumerates business member roles supplied by the identity collaborator.
type Role string

const (
	RoleOwner   Role = "OWNER"
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleStaff   Role = "STAFF"
	RoleCashier Role = "CASHIER"
)

// IsValid reports whether the role is known.
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleManager, RoleStaff, RoleCashier:
		return true
	default:
		return false
	}
}

// Supervisory reports whether the role may approve adjustments, gate transfer
// transitions, and correct baselines.
func (r Role) Supervisory() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleManager:
		return true
	default:
		return false
	}
}

// Actor identifies who performs an engine operation.
type Actor struct {
	ID   int64
	Role Role
}

// RequireSupervisory returns ErrPermissionDenied for non-supervisory actors.
func (a Actor) RequireSupervisory() error {
	if !a.Role.Supervisory() {
		return ErrPermissionDenied
	}
	return nil
}
