package domain

import "slices"

// Community is a governed group of members on a single platform. BaseRole
// names the role every member implicitly holds; a community without one has
// no implicit grants.
type Community struct {
	ID       string
	Name     string
	Platform string
	BaseRole string
}

// Member is a person (or bot) belonging to exactly one community. Admins
// bypass the permission gate entirely.
type Member struct {
	ID           string
	Community    string
	Username     string
	ReadableName string
	Admin        bool
}

// DisplayName returns the readable name when present, otherwise the username.
func (m *Member) DisplayName() string {
	if m.ReadableName != "" {
		return m.ReadableName
	}
	return m.Username
}

// Role groups members and grants capabilities. Capabilities are flat strings
// such as "propose:add_document" or "execute:platform_call".
type Role struct {
	ID           string
	Community    string
	Name         string
	Description  string
	Capabilities []string
	Members      []string
}

// HasCapability reports whether the role grants the named capability.
func (r *Role) HasCapability(capability string) bool {
	return slices.Contains(r.Capabilities, capability)
}

// HasMember reports whether the member is an explicit holder of the role.
// Implicit base-role membership is resolved by the permission gate, not here.
func (r *Role) HasMember(memberID string) bool {
	return slices.Contains(r.Members, memberID)
}

// AddMember grants the role to a member. Adding an existing holder is a no-op.
func (r *Role) AddMember(memberID string) {
	if !slices.Contains(r.Members, memberID) {
		r.Members = append(r.Members, memberID)
	}
}

// RemoveMember revokes the role from a member. Removing a non-holder is a no-op.
func (r *Role) RemoveMember(memberID string) {
	r.Members = slices.DeleteFunc(r.Members, func(id string) bool { return id == memberID })
}

// ProposeCapability returns the capability string that permits proposing
// actions of the given kind.
func ProposeCapability(kind ActionKind) string {
	return "propose:" + string(kind)
}

// ExecuteCapability returns the capability string that permits executing
// actions of the given kind without review.
func ExecuteCapability(kind ActionKind) string {
	return "execute:" + string(kind)
}

// Document is a named text artifact owned by a community, typically its
// constitution, norms, or process notes. Documents change only through
// governed actions.
type Document struct {
	ID        string
	Community string
	Name      string
	Text      string
}
