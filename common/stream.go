package common

import (
	"fmt"
	"sync"
)

// StreamPhase is the lifecycle phase of one side of a streaming RPC.
type StreamPhase uint8

const (
	StreamIdle StreamPhase = iota
	StreamOpen
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
	StreamCancelled
)

func (p StreamPhase) String() string {
	switch p {
	case StreamIdle:
		return "idle"
	case StreamOpen:
		return "open"
	case StreamHalfClosedLocal:
		return "half-closed-local"
	case StreamHalfClosedRemote:
		return "half-closed-remote"
	case StreamClosed:
		return "closed"
	case StreamCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// StreamState tracks the per-side stream lifecycle. End-stream sent moves to
// HalfClosed-local, end-stream received to HalfClosed-remote, both to Closed.
// A cancel in either direction is terminal. A terminal stream rejects
// further frames.
type StreamState struct {
	mu    sync.Mutex
	phase StreamPhase
}

// NewStreamState creates a state in the Idle phase.
func NewStreamState() *StreamState {
	return &StreamState{phase: StreamIdle}
}

// Phase delivers the current phase.
func (s *StreamState) Phase() StreamPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Open transitions Idle to Open.
func (s *StreamState) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != StreamIdle {
		return fmt.Errorf("cannot open stream in phase %s", s.phase)
	}
	s.phase = StreamOpen
	return nil
}

// SentEndStream records a locally-sent end-stream frame.
func (s *StreamState) SentEndStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case StreamOpen:
		s.phase = StreamHalfClosedLocal
	case StreamHalfClosedRemote:
		s.phase = StreamClosed
	default:
		return fmt.Errorf("cannot send end-stream in phase %s", s.phase)
	}
	return nil
}

// ReceivedEndStream records a remotely-sent end-stream frame.
func (s *StreamState) ReceivedEndStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case StreamOpen:
		s.phase = StreamHalfClosedRemote
	case StreamHalfClosedLocal:
		s.phase = StreamClosed
	default:
		return fmt.Errorf("cannot receive end-stream in phase %s", s.phase)
	}
	return nil
}

// Cancel moves the stream to the Cancelled terminal phase. Cancelling an
// already-terminal stream is a no-op.
func (s *StreamState) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == StreamClosed || s.phase == StreamCancelled {
		return
	}
	s.phase = StreamCancelled
}

// Terminal reports whether the stream accepts no further frames.
func (s *StreamState) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == StreamClosed || s.phase == StreamCancelled
}

// CanSend reports whether the local side may still emit data frames.
func (s *StreamState) CanSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == StreamOpen || s.phase == StreamHalfClosedRemote
}

// CanReceive reports whether the remote side may still deliver data frames.
func (s *StreamState) CanReceive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == StreamOpen || s.phase == StreamHalfClosedLocal
}
