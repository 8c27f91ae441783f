package models

import "time"

// Scope restricts which object of a record a download token can reach.
type Scope string

const (
	// ScopeFull reaches the watermark-free output; requires a paid record.
	ScopeFull Scope = "full"
	// ScopeWatermarked reaches the preview; no payment precondition.
	ScopeWatermarked Scope = "watermarked"
)

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	return s == ScopeFull || s == ScopeWatermarked
}

// DownloadToken is a capability granting time-boxed read access to one object.
//
// Token holds the raw value only right after minting; stores persist Digest.
type DownloadToken struct {
	Token     string
	Digest    string
	RecordID  string
	ObjectKey string
	Scope     Scope
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t *DownloadToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
