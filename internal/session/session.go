// Package session keeps per-user conversational state between updates.
// State is short-lived by design: a session that outlives its TTL
// resets to idle and the user simply starts from the menu again.
package session

import "context"

// Session is one user's conversational position.
type Session struct {
	UserID int64 `json:"user_id"`
	// Awaiting names the input the dialog expects next; empty is idle.
	Awaiting string `json:"awaiting"`
	// Context carries small string facts across steps, like a redeemed
	// discount or the account picked for renewal.
	Context map[string]string `json:"context,omitempty"`
	// AnchorMessageID is the menu message edited in place.
	AnchorMessageID int `json:"anchor_message_id,omitempty"`
}

// Value reads a context key; a nil map reads as empty.
func (s *Session) Value(key string) string {
	return s.Context[key]
}

// Set writes a context key, allocating the map on first use.
func (s *Session) Set(key, value string) {
	if s.Context == nil {
		s.Context = make(map[string]string)
	}
	s.Context[key] = value
}

// Store persists sessions. Get on an unknown or expired user returns a
// fresh idle session, never an error for "no session".
type Store interface {
	Get(ctx context.Context, userID int64) (Session, error)
	Put(ctx context.Context, s Session) error
	Reset(ctx context.Context, userID int64) error
}
