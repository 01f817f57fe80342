package auth

type Role string

const (
	RoleMember   Role = "member"
	RoleAdmin    Role = "admin"
	RoleElevated Role = "elevated"
)

// Principal is the acting platform user as the bot sees them.
// It carries no presentation tags so every layer can share it.
type Principal struct {
	UserID     string
	Name       string
	ChannelID  string
	IsAdmin    bool
	IsElevated bool
}

// Role returns the strongest marker the principal holds.
func (p Principal) Role() Role {
	switch {
	case p.IsElevated:
		return RoleElevated
	case p.IsAdmin:
		return RoleAdmin
	default:
		return RoleMember
	}
}
