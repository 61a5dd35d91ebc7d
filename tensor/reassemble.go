package tensor

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// DataChunk is a sequence-numbered envelope for store-and-forward tensor
// transfer, where chunks may arrive out of order. The wire receiver never
// uses it; payload frames on a live stream are strictly ordered.
type DataChunk struct {
	Sequence    uint32
	TotalChunks uint32
	Final       bool
	Data        []byte
}

// Encode serialises the chunk envelope.
func (c DataChunk) Encode() []byte {
	buf := make([]byte, 0, 9+len(c.Data))
	buf = binary.LittleEndian.AppendUint32(buf, c.Sequence)
	buf = binary.LittleEndian.AppendUint32(buf, c.TotalChunks)
	if c.Final {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return append(buf, c.Data...)
}

// DecodeDataChunk parses a chunk envelope.
func DecodeDataChunk(data []byte) (DataChunk, error) {
	var c DataChunk
	if len(data) < 9 {
		return c, errors.New("tensor chunk truncated")
	}
	c.Sequence = binary.LittleEndian.Uint32(data[0:4])
	c.TotalChunks = binary.LittleEndian.Uint32(data[4:8])
	c.Final = data[8] != 0
	c.Data = data[9:]
	return c, nil
}

// SplitChunks splits a tensor image into sequence-numbered chunks of at
// most maxChunkBytes each.
func SplitChunks(t *Tensor, maxChunkBytes int) []DataChunk {
	if maxChunkBytes <= 0 {
		maxChunkBytes = DefaultChunkSize
	}
	total := (len(t.Data) + maxChunkBytes - 1) / maxChunkBytes
	if total == 0 {
		total = 1
	}

	chunks := make([]DataChunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxChunkBytes
		end := start + maxChunkBytes
		if end > len(t.Data) {
			end = len(t.Data)
		}
		chunks = append(chunks, DataChunk{
			Sequence:    uint32(i),
			TotalChunks: uint32(total),
			Final:       i == total-1,
			Data:        t.Data[start:end],
		})
	}
	return chunks
}

// ChunkReassembler rebuilds a tensor from sequence-numbered chunks that
// may arrive in any order. Duplicate sequences are ignored.
type ChunkReassembler struct {
	meta     Meta
	chunks   [][]byte
	received int
}

// NewChunkReassembler creates a reassembler expecting totalChunks chunks.
func NewChunkReassembler(meta Meta, totalChunks uint32) *ChunkReassembler {
	return &ChunkReassembler{meta: meta, chunks: make([][]byte, totalChunks)}
}

// Add records a chunk, reporting whether all chunks are now present.
func (r *ChunkReassembler) Add(c DataChunk) bool {
	idx := int(c.Sequence)
	if idx < len(r.chunks) && r.chunks[idx] == nil {
		r.chunks[idx] = c.Data
		r.received++
	}
	return r.Complete()
}

// Complete reports whether every chunk has been received.
func (r *ChunkReassembler) Complete() bool {
	return r.received == len(r.chunks)
}

// Reassemble concatenates the chunks in sequence order into a tensor.
func (r *ChunkReassembler) Reassemble() (*Tensor, error) {
	if !r.Complete() {
		return nil, errors.Errorf("missing chunks: have %d of %d", r.received, len(r.chunks))
	}
	data := make([]byte, 0, r.meta.ByteSize())
	for _, c := range r.chunks {
		data = append(data, c...)
	}
	return New(r.meta, data)
}
