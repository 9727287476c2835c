package models

import (
	"encoding/json"
	"sort"
)

// CredentialType tells how a request authenticated.
type CredentialType string

const (
	CredentialSession CredentialType = "session"
	CredentialAPIKey  CredentialType = "api_key"
)

// RoleSet is a set of role names.
type RoleSet map[string]struct{}

// NewRoleSet builds a RoleSet from names.
func NewRoleSet(names ...string) RoleSet {
	set := make(RoleSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Names returns the role names in sorted order.
func (r RoleSet) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON renders the set as a sorted array.
func (r RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Names())
}

// UnmarshalJSON reads an array of names.
func (r *RoleSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*r = NewRoleSet(names...)
	return nil
}

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID        int64          `json:"id"`
	SessionID     int64          `json:"session_id,omitempty"`
	APIKeyID      int64          `json:"api_key_id,omitempty"`
	Roles         RoleSet        `json:"roles"`
	RoleIDs       []int64        `json:"-"`
	EmailVerified bool           `json:"email_verified"`
	Credential    CredentialType `json:"credential"`
}

// HasRole reports whether identity carries the named role.
func HasRole(identity *Identity, name string) bool {
	if identity == nil {
		return false
	}
	_, ok := identity.Roles[name]
	return ok
}

// HasAnyRole reports whether identity carries at least one of names.
func HasAnyRole(identity *Identity, names ...string) bool {
	for _, name := range names {
		if HasRole(identity, name) {
			return true
		}
	}
	return false
}
