package constants

// Role is the console role issued by the auth provider
type Role string

const (
	RoleProvider Role = "provider"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

func (r Role) String() string { return string(r) }

// Rank orders roles so that admin > manager > provider
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleManager:
		return 2
	case RoleProvider:
		return 1
	}
	return 0
}

// AtLeast reports whether r grants everything min grants
func (r Role) AtLeast(min Role) bool {
	return r.Rank() > 0 && r.Rank() >= min.Rank()
}
