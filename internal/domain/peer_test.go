package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPeerIdentity(t *testing.T) {
	p, err := NewPeerIdentity("alice")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "alice", p.Username)

	_, err = NewPeerIdentity("")
	assert.ErrorIs(t, err, ErrUsernameEmpty)

	_, err = NewPeerIdentity(strings.Repeat("x", MaxUsernameLen+1))
	assert.ErrorIs(t, err, ErrUsernameTooLong)
}

func TestSetUsername(t *testing.T) {
	p, err := NewPeerIdentity("alice")
	require.NoError(t, err)

	require.NoError(t, p.SetUsername("alice-2"))
	assert.Equal(t, "alice-2", p.Username)

	assert.ErrorIs(t, p.SetUsername(""), ErrUsernameEmpty)
	assert.Equal(t, "alice-2", p.Username)
}

func TestSamePeer(t *testing.T) {
	a := PeerIdentity{ID: "u1", Username: "alice"}
	aRenamed := PeerIdentity{ID: "u1", Username: "al1ce"}
	b := PeerIdentity{ID: "u2", Username: "bob"}

	assert.True(t, a.SamePeer(aRenamed))
	assert.False(t, a.SamePeer(b))
	assert.False(t, PeerIdentity{}.SamePeer(PeerIdentity{}), "empty ids never match")
}

func TestMediaKind(t *testing.T) {
	assert.True(t, MediaAudio.Valid())
	assert.True(t, MediaVideo.Valid())
	assert.False(t, MediaKind("screen").Valid())

	assert.False(t, MediaAudio.WantsCamera())
	assert.True(t, MediaVideo.WantsCamera())
}
