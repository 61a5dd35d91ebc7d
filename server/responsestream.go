package server

import (
	"net/http"
	"sync"

	"github.com/jeffhajewski/quill/common/frame"
)

// frameWriter wraps the handler's produced message sequence into a framed
// response body, flushing each frame so clients observe messages as they
// are emitted. Credit frames interleave from the request-stream side, so
// writes are serialised.
type frameWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	ended   bool
}

func newFrameWriter(w http.ResponseWriter) *frameWriter {
	flusher, _ := w.(http.Flusher)
	return &frameWriter{w: w, flusher: flusher}
}

func (fw *frameWriter) writeFrame(f frame.Frame) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.ended {
		return nil
	}
	if _, err := fw.w.Write(f.Encode()); err != nil {
		return err
	}
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
	return nil
}

// WriteMessage emits one data frame.
func (fw *frameWriter) WriteMessage(msg []byte) error {
	return fw.writeFrame(frame.Data(msg))
}

// GrantCredit interleaves a credit frame on the response stream.
func (fw *frameWriter) GrantCredit(n uint32) {
	_ = fw.writeFrame(frame.Credit(n))
}

// End terminates the stream normally.
func (fw *frameWriter) End() error {
	err := fw.writeFrame(frame.EndStream())
	fw.mu.Lock()
	fw.ended = true
	fw.mu.Unlock()
	return err
}
