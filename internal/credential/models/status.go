package models

import "time"

// DeriveStatus computes a credential's status from its anchors, revocation,
// expiry and pipeline stage. It has no side effects.
//
// Revoked and Expired are terminal: whichever took effect first is kept.
// A revocation takes effect at RevokedAt once any of its transactions is confirmed.
func DeriveStatus(c *Credential, minConfirmations uint64, now time.Time) Status {
	if c == nil {
		return StatusPending
	}
	if c.Stage == StageFailed {
		return StatusFailed
	}

	revoked := c.Revocation.Confirmed(minConfirmations)
	if c.Expired(now) {
		if revoked && c.Revocation.RevokedAt.Before(*c.ExpiresAt) {
			return StatusRevoked
		}
		return StatusExpired
	}
	if revoked {
		return StatusRevoked
	}

	for _, a := range c.Anchors {
		if a.ConfirmedAt(minConfirmations) {
			return StatusActive
		}
	}
	return StatusPending
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusRevoked || s == StatusExpired || s == StatusFailed
}
