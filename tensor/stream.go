package tensor

import (
	"encoding/binary"
	"fmt"
)

// DefaultChunkSize is the default maximum payload chunk size (64 KiB).
const DefaultChunkSize = 64 * 1024

// ErrMissingMetadata reports a TENSOR_PAYLOAD frame received before any
// TENSOR_META frame.
var ErrMissingMetadata = fmt.Errorf("missing tensor metadata: TENSOR_PAYLOAD received before TENSOR_META")

// SizeMismatchError reports an END_STREAM whose accumulated payload does
// not match the announced byte size.
type SizeMismatchError struct {
	Expected int
	Received int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("tensor size mismatch: expected %d bytes, got %d", e.Expected, e.Received)
}

// UnexpectedFrameError reports a frame type that is invalid at the current
// point in the tensor stream.
type UnexpectedFrameError struct {
	Expected string
	Actual   FrameType
}

func (e *UnexpectedFrameError) Error() string {
	return fmt.Sprintf("unexpected frame type: expected %s, got %s", e.Expected, e.Actual)
}

// Sender encodes a tensor as a frame sequence: one TENSOR_META frame, the
// payload split into chunks of at most ChunkSize bytes in ascending offset
// order, then END_STREAM. Data frames from distinct tensors are never
// interleaved on one logical stream.
type Sender struct {
	ChunkSize int
}

// NewSender creates a sender with the default chunk size.
func NewSender() *Sender {
	return &Sender{ChunkSize: DefaultChunkSize}
}

// EncodeTensor produces the full frame sequence for a tensor.
func (s *Sender) EncodeTensor(t *Tensor) []Frame {
	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	frames := make([]Frame, 0, 2+(len(t.Data)+chunkSize-1)/chunkSize)
	frames = append(frames, MetaFrame(EncodeMeta(t.Meta)))

	for offset := 0; offset < len(t.Data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(t.Data) {
			end = len(t.Data)
		}
		frames = append(frames, PayloadFrame(t.Data[offset:end]))
	}

	return append(frames, EndStreamFrame())
}

// EncodeMeta serialises metadata into the compact binary layout:
// ndim:u8 | shape:ndim*u64_le | dtype:u8 | device:u8 | byte_size:u64_le |
// name_len:u16_le | name:utf-8.
func EncodeMeta(m Meta) []byte {
	name := []byte(m.Name)
	buf := make([]byte, 0, 1+len(m.Shape)*8+1+1+8+2+len(name))

	buf = append(buf, byte(len(m.Shape)))
	for _, dim := range m.Shape {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(dim))
	}
	buf = append(buf, byte(m.DType), byte(m.Device))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.ByteSize()))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(name)))
	return append(buf, name...)
}

// DecodeMeta parses a TENSOR_META payload.
func DecodeMeta(data []byte) (Meta, error) {
	var m Meta
	if len(data) == 0 {
		return m, fmt.Errorf("empty tensor metadata")
	}

	ndim := int(data[0])
	offset := 1
	if len(data) < offset+ndim*8+1+1+8+2 {
		return m, fmt.Errorf("tensor metadata too short")
	}

	m.Shape = make([]int, ndim)
	for i := 0; i < ndim; i++ {
		m.Shape[i] = int(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8
	}

	dtype, err := ParseDType(data[offset])
	if err != nil {
		return m, err
	}
	m.DType = dtype
	offset++

	device, err := ParseDevice(data[offset])
	if err != nil {
		return m, err
	}
	m.Device = device
	offset++

	// Announced byte size is recomputed from the shape.
	offset += 8

	nameLen := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	if nameLen > 0 && len(data) >= offset+nameLen {
		m.Name = string(data[offset : offset+nameLen])
	}

	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// EventKind classifies receiver events.
type EventKind int

const (
	// EventNeedMoreData means no complete frame is buffered.
	EventNeedMoreData EventKind = iota
	// EventMetadata means a TENSOR_META frame was decoded.
	EventMetadata
	// EventData means a payload chunk was appended.
	EventData
	// EventEnd means the stream completed and the size was verified.
	EventEnd
	// EventCancelled means the peer cancelled the stream.
	EventCancelled
)

// Chunk is one contiguous slice of the tensor image, positioned by its
// byte offset from the start of the tensor.
type Chunk struct {
	Offset int
	Data   []byte
}

// Event is one receiver observation.
type Event struct {
	Kind   EventKind
	Meta   *Meta
	Chunk  Chunk
	Reason string
}

// Receiver reconstructs a tensor from the frame sequence a Sender
// produces. On TENSOR_META it pre-allocates a buffer of exactly the
// announced size on the target device (degrading to host with a warning).
// Payload bytes are appended strictly in wire order; the receiver never
// reorders or skips payload frames.
type Receiver struct {
	parser   *Parser
	meta     *Meta
	buffer   *Buffer
	expected int
	received int
	complete bool
}

// NewReceiver creates an empty receiver.
func NewReceiver() *Receiver {
	return &Receiver{parser: NewParser()}
}

// Feed appends transport bytes.
func (r *Receiver) Feed(data []byte) {
	r.parser.Feed(data)
}

// Meta delivers the metadata once received.
func (r *Receiver) Meta() *Meta { return r.meta }

// Complete reports whether the stream ended with all bytes accounted for.
func (r *Receiver) Complete() bool { return r.complete }

// Poll processes the next buffered frame.
func (r *Receiver) Poll() (Event, error) {
	f, err := r.parser.Next()
	if err != nil {
		return Event{}, err
	}
	if f == nil {
		return Event{Kind: EventNeedMoreData}, nil
	}
	return r.handleFrame(f)
}

func (r *Receiver) handleFrame(f *Frame) (Event, error) {
	switch f.Type {
	case TypeTensorMeta:
		meta, err := DecodeMeta(f.Payload)
		if err != nil {
			return Event{}, err
		}
		r.meta = &meta
		r.expected = meta.ByteSize()
		r.received = 0
		r.buffer = AllocateBuffer(meta.Device, meta.DeviceID, r.expected)
		return Event{Kind: EventMetadata, Meta: &meta}, nil

	case TypeTensorPayload:
		if r.meta == nil {
			return Event{}, ErrMissingMetadata
		}
		offset := r.received
		r.buffer.Append(f.Payload)
		r.received += len(f.Payload)
		return Event{Kind: EventData, Chunk: Chunk{Offset: offset, Data: f.Payload}}, nil

	case TypeEndStream:
		if r.expected > 0 && r.received != r.expected {
			return Event{}, &SizeMismatchError{Expected: r.expected, Received: r.received}
		}
		r.complete = true
		return Event{Kind: EventEnd}, nil

	case TypeCancel:
		return Event{Kind: EventCancelled, Reason: string(f.Payload)}, nil
	}

	return Event{}, &UnexpectedFrameError{
		Expected: "TENSOR_META, TENSOR_PAYLOAD, END_STREAM, or CANCEL",
		Actual:   f.Type,
	}
}

// Take transfers the completed tensor out of the receiver.
func (r *Receiver) Take() (*Tensor, error) {
	if !r.complete {
		return nil, fmt.Errorf("tensor stream not complete")
	}
	if r.meta == nil || r.buffer == nil {
		return nil, fmt.Errorf("tensor stream has no metadata")
	}

	host, err := r.buffer.CopyToHost()
	if err != nil {
		return nil, err
	}

	meta := *r.meta
	data := host.Take()
	r.meta = nil
	r.buffer = nil
	r.expected = 0
	r.received = 0
	r.complete = false

	return New(meta, data)
}
