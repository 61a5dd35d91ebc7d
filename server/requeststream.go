package server

import (
	"context"
	"io"

	"github.com/jeffhajewski/quill/common"
	"github.com/jeffhajewski/quill/common/flow"
	"github.com/jeffhajewski/quill/common/frame"
)

const readBufferSize = 32 * 1024

// RequestStream decodes the inbound request body into a message sequence
// for a streaming handler. Data frames yield their payloads, an end-stream
// frame terminates the sequence with io.EOF, a cancel frame terminates it
// with a CancelledError, and credit frames grant outbound send credit.
// Every CreditRefill drained messages, a credit frame is interleaved back
// on the response stream.
type RequestStream struct {
	body        io.Reader
	parser      *frame.Parser
	state       *common.StreamState
	sendCredits *flow.CreditTracker
	refill      uint32
	grantCredit func(n uint32)

	buf      []byte
	received uint32
	done     bool
}

// NewRequestStream wraps an inbound body. grantCredit, when non-nil, is
// invoked to interleave a credit frame on the response stream.
func NewRequestStream(body io.Reader, refill uint32, grantCredit func(n uint32)) *RequestStream {
	if refill == 0 {
		refill = flow.DefaultCreditRefill
	}
	state := common.NewStreamState()
	_ = state.Open()
	return &RequestStream{
		body:        body,
		parser:      frame.NewParser(),
		state:       state,
		sendCredits: flow.NewDefaultCreditTracker(),
		refill:      refill,
		grantCredit: grantCredit,
		buf:         make([]byte, readBufferSize),
	}
}

// SendCredits delivers the tracker holding server-to-client send credit,
// fed by client credit frames.
func (s *RequestStream) SendCredits() *flow.CreditTracker { return s.sendCredits }

// Received delivers the number of data messages drained so far.
func (s *RequestStream) Received() uint32 { return s.received }

// Next delivers the next inbound message, io.EOF at normal stream end, or
// a CancelledError when the client cancelled.
func (s *RequestStream) Next(ctx context.Context) ([]byte, error) {
	if s.done {
		if s.state.Phase() == common.StreamCancelled {
			return nil, &common.CancelledError{}
		}
		return nil, io.EOF
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		f, err := s.parser.Next()
		if err != nil {
			s.done = true
			return nil, err
		}
		if f != nil {
			switch {
			case f.Flags.IsData():
				s.received++
				if s.grantCredit != nil && s.received%s.refill == 0 {
					s.grantCredit(s.refill)
				}
				return f.Payload, nil
			case f.Flags.IsEndStream():
				_ = s.state.ReceivedEndStream()
				s.done = true
				return nil, io.EOF
			case f.Flags.IsCancel():
				s.state.Cancel()
				s.done = true
				return nil, &common.CancelledError{Reason: string(f.Payload)}
			case f.Flags.IsCredit():
				if n, ok := f.DecodeCredit(); ok {
					s.sendCredits.Grant(n)
				}
				continue
			default:
				continue
			}
		}

		n, rdErr := s.body.Read(s.buf)
		if n > 0 {
			s.parser.Feed(s.buf[:n])
			continue
		}
		if rdErr == io.EOF {
			// Body ended without END_STREAM; treat as stream end.
			s.done = true
			return nil, io.EOF
		}
		if rdErr != nil {
			s.done = true
			return nil, &common.TransportError{Op: "read request stream", Err: rdErr}
		}
	}
}

// Collect drains the remaining messages.
func (s *RequestStream) Collect(ctx context.Context) ([][]byte, error) {
	var msgs [][]byte
	for {
		msg, err := s.Next(ctx)
		if err == io.EOF {
			return msgs, nil
		}
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
}
