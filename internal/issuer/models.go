package issuer

import (
	"slices"
	"strings"
)

// Action is a capability an issuer principal may exercise.
type Action string

const (
	ActionIssue  Action = "issue"
	ActionRevoke Action = "revoke"
)

// Issuer is an organisation allowed to anchor credentials on specific networks.
type Issuer struct {
	Ref                string   `json:"ref"`
	Name               string   `json:"name"`
	PublicKey          string   `json:"public_key,omitempty"`
	AuthorizedNetworks []string `json:"authorized_networks"`
	// Delegates may act on the issuer's behalf with the same network scope.
	Delegates []string `json:"delegates,omitempty"`
	Active    bool     `json:"active"`
}

// AuthorizedOn reports whether the issuer may anchor on network.
func (i *Issuer) AuthorizedOn(network string) bool {
	return slices.Contains(i.AuthorizedNetworks, network)
}

// ActsFor reports whether principal is the issuer itself or one of its delegates.
func (i *Issuer) ActsFor(principal string) bool {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return false
	}
	return principal == i.Ref || slices.Contains(i.Delegates, principal)
}
