// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxPeerIDLen   = 36
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrPeerIDEmpty     = errors.New("peer id empty")
)

type PeerID string

// PeerIdentity is the addressable profile of one call participant.
type PeerIdentity struct {
	ID       PeerID `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Verified bool   `json:"verified,omitempty"`
}

// NewPeerIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewPeerIdentity(username string) (*PeerIdentity, error) {
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	id := PeerID(uuid.NewString())
	return &PeerIdentity{ID: id, Username: username}, nil
}

func (p *PeerIdentity) SetUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	p.Username = username
	return nil
}

// SamePeer reports whether two identities address the same user.
// Display fields may differ between profile updates; only the ID counts.
func (p PeerIdentity) SamePeer(other PeerIdentity) bool {
	return p.ID != "" && p.ID == other.ID
}
