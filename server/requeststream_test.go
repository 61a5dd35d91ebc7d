package server

import (
	"bytes"
	"context"
	"io"
	"testing"

	assert "github.com/stretchr/testify/require"

	"github.com/jeffhajewski/quill/common"
	"github.com/jeffhajewski/quill/common/frame"
)

func framedBody(frames ...frame.Frame) io.Reader {
	var body []byte
	for _, f := range frames {
		body = f.AppendEncode(body)
	}
	return bytes.NewReader(body)
}

func TestRequestStreamYieldsMessages(t *testing.T) {
	s := NewRequestStream(framedBody(
		frame.Data([]byte("one")),
		frame.Data([]byte("two")),
		frame.EndStream(),
	), 0, nil)

	msg, err := s.Next(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "one", string(msg))

	msg, err = s.Next(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "two", string(msg))

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, uint32(2), s.Received())

	// Terminal: stays EOF.
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestRequestStreamCreditRefill(t *testing.T) {
	frames := make([]frame.Frame, 0, 9)
	for i := 0; i < 8; i++ {
		frames = append(frames, frame.Data([]byte{byte(i)}))
	}
	frames = append(frames, frame.EndStream())

	var grants []uint32
	s := NewRequestStream(framedBody(frames...), 4, func(n uint32) {
		grants = append(grants, n)
	})

	msgs, err := s.Collect(context.Background())
	assert.NoError(t, err)
	assert.Len(t, msgs, 8)

	// A grant goes out every 4 drained messages.
	assert.Equal(t, []uint32{4, 4}, grants)
}

func TestRequestStreamClientCreditGrants(t *testing.T) {
	s := NewRequestStream(framedBody(
		frame.Credit(5),
		frame.Data([]byte("msg")),
		frame.EndStream(),
	), 0, nil)

	before := s.SendCredits().Available()

	msg, err := s.Next(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "msg", string(msg))
	assert.Equal(t, before+5, s.SendCredits().Available())
}

func TestRequestStreamCancel(t *testing.T) {
	s := NewRequestStream(framedBody(
		frame.Data([]byte("msg")),
		frame.Cancel("going away"),
	), 0, nil)

	_, err := s.Next(context.Background())
	assert.NoError(t, err)

	_, err = s.Next(context.Background())
	var cancelled *common.CancelledError
	assert.ErrorAs(t, err, &cancelled)
	assert.Equal(t, "going away", cancelled.Reason)

	// Terminal: stays cancelled.
	_, err = s.Next(context.Background())
	assert.ErrorAs(t, err, &cancelled)
}

func TestRequestStreamBodyEOFEndsStream(t *testing.T) {
	s := NewRequestStream(framedBody(frame.Data([]byte("only"))), 0, nil)

	msg, err := s.Next(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "only", string(msg))

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestRequestStreamMalformedFrame(t *testing.T) {
	var body []byte
	body = appendUvarint(body, frame.MaxFrameSize+1)
	body = append(body, byte(frame.FlagData))

	s := NewRequestStream(bytes.NewReader(body), 0, nil)
	_, err := s.Next(context.Background())
	var tooLarge *frame.TooLargeError
	assert.ErrorAs(t, err, &tooLarge)
}

func appendUvarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}
