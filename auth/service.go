package auth

import (
	"errors"
	"slices"
)

// ErrMissingUser signals an interaction without an identifiable user.
var ErrMissingUser = errors.New("auth: missing user id")

// Policy maps platform role ids onto the bot's privilege markers.
type Policy struct {
	AdminRoleIDs    []string
	ElevatedRoleIDs []string
}

func NewPolicy(adminRoleIDs, elevatedRoleIDs []string) *Policy {
	return &Policy{AdminRoleIDs: adminRoleIDs, ElevatedRoleIDs: elevatedRoleIDs}
}

// Resolve builds the principal for a member holding memberRoles. Holders of
// an elevated role are administrators as well.
func (p *Policy) Resolve(userID, name, channelID string, memberRoles []string) (Principal, error) {
	if userID == "" {
		return Principal{}, ErrMissingUser
	}
	pr := Principal{UserID: userID, Name: name, ChannelID: channelID}
	for _, r := range memberRoles {
		if slices.Contains(p.ElevatedRoleIDs, r) {
			pr.IsElevated = true
			pr.IsAdmin = true
		}
		if slices.Contains(p.AdminRoleIDs, r) {
			pr.IsAdmin = true
		}
	}
	return pr, nil
}
