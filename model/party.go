package model

type Role string

const (
	RoleTraveler Role = "traveler"
	RoleGuide    Role = "guide"
)

func (r Role) Valid() bool {
	return r == RoleTraveler || r == RoleGuide
}

// Other returns the counterpart role in a thread.
func (r Role) Other() Role {
	if r == RoleTraveler {
		return RoleGuide
	}
	return RoleTraveler
}

// ParseRole accepts only the two negotiation roles.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

// Sender identifies the acting party. The identity provider asserts both
// fields; the store only checks them against the thread participants.
type Sender struct {
	PartyID string `json:"party_id"`
	Role    Role   `json:"role"`
}

func (s Sender) Valid() bool {
	return s.PartyID != "" && s.Role.Valid()
}
