package tensor

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed tensor frame header size:
// type:u8 | reserved[4] | length:u32_be.
const HeaderSize = 9

// MaxPayloadSize is the maximum tensor frame payload length.
const MaxPayloadSize = 1<<32 - 1

// FrameType identifies the kind of a tensor stream frame.
type FrameType uint8

const (
	// TypeProtoMsg carries an ordinary protobuf message.
	TypeProtoMsg FrameType = 0x01
	// TypeEndStream marks normal stream termination.
	TypeEndStream FrameType = 0x02
	// TypeCancel signals cancellation, optionally with a UTF-8 reason.
	TypeCancel FrameType = 0x04
	// TypeCredit grants byte-granular send credit to the peer.
	TypeCredit FrameType = 0x08
	// TypeTensorMeta carries tensor metadata so receivers can pre-allocate.
	TypeTensorMeta FrameType = 0x10
	// TypeTensorPayload carries a contiguous slice of the tensor image.
	TypeTensorPayload FrameType = 0x11
	// TypeTokenBatch carries a batch of LLM tokens.
	TypeTokenBatch FrameType = 0x20
)

// Reserved-byte flags held for future use.
const (
	ReservedCompressed   = 0x01
	ReservedHasChecksum  = 0x02
	ReservedContinuation = 0x04
)

func (t FrameType) String() string {
	switch t {
	case TypeProtoMsg:
		return "PROTO_MSG"
	case TypeEndStream:
		return "END_STREAM"
	case TypeCancel:
		return "CANCEL"
	case TypeCredit:
		return "CREDIT"
	case TypeTensorMeta:
		return "TENSOR_META"
	case TypeTensorPayload:
		return "TENSOR_PAYLOAD"
	case TypeTokenBatch:
		return "TOKEN_BATCH"
	}
	return fmt.Sprintf("frame_type(0x%02x)", uint8(t))
}

// IsTerminal reports whether the type ends or cancels the stream.
func (t FrameType) IsTerminal() bool {
	return t == TypeEndStream || t == TypeCancel
}

// IsTensorFrame reports whether the type carries tensor data.
func (t FrameType) IsTensorFrame() bool {
	return t == TypeTensorMeta || t == TypeTensorPayload
}

func validFrameType(b byte) bool {
	switch FrameType(b) {
	case TypeProtoMsg, TypeEndStream, TypeCancel, TypeCredit,
		TypeTensorMeta, TypeTensorPayload, TypeTokenBatch:
		return true
	}
	return false
}

// UnknownFrameTypeError reports an unrecognised frame type byte.
type UnknownFrameTypeError struct {
	Value byte
}

func (e *UnknownFrameTypeError) Error() string {
	return fmt.Sprintf("unknown frame type: 0x%02x", e.Value)
}

// Frame is one frame of the tensor streaming protocol.
type Frame struct {
	Type     FrameType
	Reserved [4]byte
	Payload  []byte
}

// NewFrame creates a frame of the given type.
func NewFrame(t FrameType, payload []byte) Frame {
	return Frame{Type: t, Payload: payload}
}

// ProtoMsgFrame creates a PROTO_MSG frame.
func ProtoMsgFrame(payload []byte) Frame { return NewFrame(TypeProtoMsg, payload) }

// MetaFrame creates a TENSOR_META frame.
func MetaFrame(payload []byte) Frame { return NewFrame(TypeTensorMeta, payload) }

// PayloadFrame creates a TENSOR_PAYLOAD frame.
func PayloadFrame(payload []byte) Frame { return NewFrame(TypeTensorPayload, payload) }

// TokenBatchFrame creates a TOKEN_BATCH frame.
func TokenBatchFrame(payload []byte) Frame { return NewFrame(TypeTokenBatch, payload) }

// EndStreamFrame creates an END_STREAM frame.
func EndStreamFrame() Frame { return NewFrame(TypeEndStream, nil) }

// CancelFrame creates a CANCEL frame with an optional reason.
func CancelFrame(reason string) Frame { return NewFrame(TypeCancel, []byte(reason)) }

// CreditFrame creates a CREDIT frame granting n bytes.
func CreditFrame(n uint64) Frame {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, n)
	return NewFrame(TypeCredit, payload)
}

// DecodeCredit extracts the byte grant from a CREDIT frame.
func (f Frame) DecodeCredit() (uint64, bool) {
	if f.Type != TypeCredit || len(f.Payload) < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(f.Payload), true
}

// EncodedSize delivers the total encoded size of the frame.
func (f Frame) EncodedSize() int { return HeaderSize + len(f.Payload) }

// Encode serialises the frame.
func (f Frame) Encode() []byte {
	return f.AppendEncode(make([]byte, 0, f.EncodedSize()))
}

// AppendEncode serialises the frame onto dst.
func (f Frame) AppendEncode(dst []byte) []byte {
	dst = append(dst, byte(f.Type))
	dst = append(dst, f.Reserved[:]...)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(f.Payload)))
	return append(dst, f.Payload...)
}

// Parser decodes tensor frames incrementally, tolerating arbitrary splits
// at transport read boundaries.
type Parser struct {
	buf []byte
}

// NewParser creates an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends transport bytes to the parse buffer.
func (p *Parser) Feed(data []byte) {
	p.buf = append(p.buf, data...)
}

// Buffered delivers the number of unconsumed bytes.
func (p *Parser) Buffered() int { return len(p.buf) }

// Next parses one complete frame, advancing past its bytes. A nil frame
// with a nil error means more data is needed.
func (p *Parser) Next() (*Frame, error) {
	if len(p.buf) < HeaderSize {
		return nil, nil
	}

	if !validFrameType(p.buf[0]) {
		return nil, &UnknownFrameTypeError{Value: p.buf[0]}
	}

	length := int(binary.BigEndian.Uint32(p.buf[5:HeaderSize]))
	total := HeaderSize + length
	if len(p.buf) < total {
		return nil, nil
	}

	frame := &Frame{Type: FrameType(p.buf[0])}
	copy(frame.Reserved[:], p.buf[1:5])
	frame.Payload = make([]byte, length)
	copy(frame.Payload, p.buf[HeaderSize:total])
	p.buf = p.buf[total:]

	return frame, nil
}
