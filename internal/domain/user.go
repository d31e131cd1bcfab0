package domain

// AuthenticatedUser is the principal resolved by the identity middleware
// before any usecase runs. The core performs no authentication of its own.
type AuthenticatedUser struct {
	SubjectID   string `json:"subjectId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Role is the participation role of a user within a single release.
type Role string

const (
	RoleAdministrator Role = "Administrator"
	RoleManager       Role = "Manager"
	RoleMember        Role = "Member"
)

// ParseRole validates a role string supplied at the boundary.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdministrator, RoleManager, RoleMember:
		return Role(s), nil
	}
	return "", ValidationError{Message: "unknown release role " + s}
}

// CanViewAllCases reports whether the role sees every case in scope.
// Members only ever see cases with at least one selected descendant.
func (r Role) CanViewAllCases() bool {
	return r == RoleAdministrator || r == RoleManager
}

// CanEditSelection reports whether the role may alter the selection set.
func (r Role) CanEditSelection() bool {
	return r == RoleAdministrator || r == RoleManager
}

// CanEditApplicationCoded reports whether the role may alter the coded
// application fields (study type, diseases, countries, beacon query).
func (r Role) CanEditApplicationCoded() bool {
	return r == RoleAdministrator || r == RoleManager
}

// CanAdminister reports whether the role may alter allow flags, data sharing
// configuration, participants, and activation state.
func (r Role) CanAdminister() bool {
	return r == RoleAdministrator
}

// Participant is a user's membership record in a release.
type Participant struct {
	SubjectID   string `json:"subjectId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}
