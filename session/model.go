package session

import (
	"database/sql"
	"time"
)

// RefreshToken is one link of a rotation chain. TokenHash is the hex SHA-256
// of the opaque bearer value.
type RefreshToken struct {
	ID               int64        `db:"id"`
	TokenHash        string       `db:"token_hash"`
	FamilyID         string       `db:"family_id"`
	UserID           int64        `db:"user_id"`
	ExpiresAt        time.Time    `db:"expires_at"`
	SessionStartedAt time.Time    `db:"session_started_at"`
	IsRevoked        bool         `db:"is_revoked"`
	RevokedAt        sql.NullTime `db:"revoked_at"`
	RevokeReason     string       `db:"revoke_reason"`
	CreatedByIP      string       `db:"created_by_ip"`
	CreatedAt        time.Time    `db:"created_at"`
}

// Revocation reasons recorded on refresh_tokens.revoke_reason.
const (
	ReasonRotated        = "rotated"
	ReasonReuse          = "reuse"
	ReasonTokenExpired   = "token_expired"
	ReasonSessionExpired = "session_expired"
	ReasonFamilyRevoked  = "family_revoked"
	ReasonLogout         = "logout"
	ReasonLogoutAll      = "logout_all"
)

// AbsoluteDeadline is the instant after which the family may not rotate.
func (t *RefreshToken) AbsoluteDeadline(lifetime time.Duration) time.Time {
	return t.SessionStartedAt.Add(lifetime)
}
