package common

import (
	"testing"

	assert "github.com/stretchr/testify/require"
)

func TestStreamLifecycle(t *testing.T) {
	s := NewStreamState()
	assert.Equal(t, StreamIdle, s.Phase())

	assert.NoError(t, s.Open())
	assert.Equal(t, StreamOpen, s.Phase())
	assert.True(t, s.CanSend())
	assert.True(t, s.CanReceive())

	assert.NoError(t, s.SentEndStream())
	assert.Equal(t, StreamHalfClosedLocal, s.Phase())
	assert.False(t, s.CanSend())
	assert.True(t, s.CanReceive())

	assert.NoError(t, s.ReceivedEndStream())
	assert.Equal(t, StreamClosed, s.Phase())
	assert.True(t, s.Terminal())
}

func TestStreamBothDirections(t *testing.T) {
	s := NewStreamState()
	assert.NoError(t, s.Open())
	assert.NoError(t, s.ReceivedEndStream())
	assert.Equal(t, StreamHalfClosedRemote, s.Phase())
	assert.True(t, s.CanSend())
	assert.False(t, s.CanReceive())

	assert.NoError(t, s.SentEndStream())
	assert.Equal(t, StreamClosed, s.Phase())
}

func TestStreamCancelTerminal(t *testing.T) {
	s := NewStreamState()
	assert.NoError(t, s.Open())
	s.Cancel()
	assert.Equal(t, StreamCancelled, s.Phase())
	assert.True(t, s.Terminal())
	assert.False(t, s.CanSend())
	assert.False(t, s.CanReceive())

	// Terminal streams reject further transitions.
	assert.Error(t, s.SentEndStream())
	assert.Error(t, s.ReceivedEndStream())
}

func TestStreamClosedStaysClosedOnCancel(t *testing.T) {
	s := NewStreamState()
	assert.NoError(t, s.Open())
	assert.NoError(t, s.SentEndStream())
	assert.NoError(t, s.ReceivedEndStream())
	s.Cancel()
	assert.Equal(t, StreamClosed, s.Phase())
}

func TestStreamOpenOnlyFromIdle(t *testing.T) {
	s := NewStreamState()
	assert.NoError(t, s.Open())
	assert.Error(t, s.Open())
}
