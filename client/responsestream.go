package client

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/jeffhajewski/quill/common"
	"github.com/jeffhajewski/quill/common/flow"
	"github.com/jeffhajewski/quill/common/frame"
)

const readBufferSize = 32 * 1024

// ResponseStream is the lazy inbound message sequence of a streaming call.
// Each pull parses the next data frame from the response body; an
// end-stream frame ends the sequence with io.EOF, a cancel frame yields a
// CancelledError, credit frames are never surfaced: they refill the
// client's send credit when the call has one (bidirectional) and are
// dropped otherwise.
type ResponseStream struct {
	path        string
	body        io.ReadCloser
	parser      *frame.Parser
	state       *common.StreamState
	sendCredits *flow.CreditTracker
	trace       *ClientTrace
	cancel      context.CancelFunc

	mu       sync.Mutex
	buf      []byte
	received int
	done     bool
}

func (c *Client) newResponseStream(path string, resp *http.Response,
	cancel context.CancelFunc, sendCredits *flow.CreditTracker, trace *ClientTrace) (*ResponseStream, error) {

	body := resp.Body
	if resp.Header.Get("Content-Encoding") == "zstd" {
		zr, err := zstd.NewReader(body)
		if err != nil {
			resp.Body.Close()
			cancel()
			return nil, &common.TransportError{Op: "create zstd reader", Err: err}
		}
		body = readCloser{Reader: zr.IOReadCloser(), close: resp.Body.Close}
	}

	state := common.NewStreamState()
	_ = state.Open()

	return &ResponseStream{
		path:        path,
		body:        body,
		parser:      frame.NewParser(),
		state:       state,
		sendCredits: sendCredits,
		trace:       trace,
		cancel:      cancel,
		buf:         make([]byte, readBufferSize),
	}, nil
}

type readCloser struct {
	io.Reader
	close func() error
}

func (rc readCloser) Close() error { return rc.close() }

// Next delivers the next message. io.EOF signals normal stream end. Once
// the stream is terminal, later calls return a CancelledError (without the
// reason) if it was cancelled and io.EOF otherwise, including after an
// error has been returned.
func (s *ResponseStream) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
			s.terminate()
			return nil, err
		}
		if f != nil {
			switch {
			case f.Flags.IsData():
				s.received++
				s.trace.MessageReceived(s.path, s.received)
				return f.Payload, nil
			case f.Flags.IsEndStream():
				_ = s.state.ReceivedEndStream()
				s.terminate()
				return nil, io.EOF
			case f.Flags.IsCancel():
				s.state.Cancel()
				s.terminate()
				return nil, &common.CancelledError{Reason: string(f.Payload)}
			case f.Flags.IsCredit():
				if n, ok := f.DecodeCredit(); ok && s.sendCredits != nil {
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
			// Body ended without END_STREAM: the stream was truncated.
			s.terminate()
			terr := &common.TransportError{Op: "read response stream", Err: io.ErrUnexpectedEOF}
			s.trace.Error("ResponseStream", s.path, terr)
			return nil, terr
		}
		if rdErr != nil {
			s.terminate()
			return nil, &common.TransportError{Op: "read response stream", Err: rdErr}
		}
	}
}

// Cancel drops the stream: the underlying transport request is aborted and
// the connection torn down. The server observes the reset and releases the
// stream's resources.
func (s *ResponseStream) Cancel(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.state.Cancel()
	s.trace.StreamCancelled(s.path, reason)
	s.terminate()
}

// Close releases the stream's transport resources.
func (s *ResponseStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminate()
	return nil
}

func (s *ResponseStream) terminate() {
	if s.done {
		return
	}
	s.done = true
	_ = s.body.Close()
	s.cancel()
}

// Collect drains the stream into a message slice, for callers that want
// the whole sequence.
func (s *ResponseStream) Collect(ctx context.Context) ([][]byte, error) {
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
