package domain

// Role is the permission level of an operator or automated caller.
type Role string

// Roles, from least to most privileged.
const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	// RoleSystem is held by automated monitors. It may mutate incidents but
	// cannot read the audit ledger.
	RoleSystem Role = "system"
)

// IsValid checks if the role is valid.
func (r Role) IsValid() bool {
	return r.level() > 0
}

func (r Role) level() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleOperator, RoleSystem:
		return 2
	case RoleAdmin:
		return 3
	}
	return 0
}

// HasPermission reports whether r grants at least the permissions of required.
func (r Role) HasPermission(required Role) bool {
	return r.level() >= required.level() && r.level() > 0
}

// SystemActorName is the reserved actor identifier for automated actions.
const SystemActorName = "system"

// Actor identifies who performs an operation.
type Actor struct {
	ID        string
	Name      string
	Role      Role
	IPAddress string
}

// SystemActor returns the reserved actor used for automated actions.
func SystemActor() Actor {
	return Actor{ID: SystemActorName, Name: SystemActorName, Role: RoleSystem}
}

// DisplayName returns the identifier recorded on timeline entries.
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
