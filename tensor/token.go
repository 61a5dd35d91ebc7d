package tensor

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Token is a single LLM token on a generation stream.
type Token struct {
	// ID is the vocabulary id.
	ID uint32
	// Position is the 0-indexed sequence position.
	Position uint32
	// Text is the optional decoded rendering; HasText distinguishes an
	// absent rendering from an empty one.
	Text    string
	HasText bool
	// LogProb is the optional log probability of this token.
	LogProb    float32
	HasLogProb bool
	// Special marks BOS/EOS/PAD and similar tokens.
	Special bool
}

// NewToken creates a token with just an id and position.
func NewToken(id, position uint32) Token {
	return Token{ID: id, Position: position}
}

// WithText attaches a decoded text rendering.
func (t Token) WithText(text string) Token {
	t.Text = text
	t.HasText = true
	return t
}

// WithLogProb attaches a log probability.
func (t Token) WithLogProb(lp float32) Token {
	t.LogProb = lp
	t.HasLogProb = true
	return t
}

// AsSpecial marks the token as special.
func (t Token) AsSpecial() Token {
	t.Special = true
	return t
}

const (
	tokenFlagHasText    = 0x01
	tokenFlagHasLogProb = 0x02
	tokenFlagSpecial    = 0x04
)

func (t Token) appendEncode(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, t.ID)
	buf = binary.BigEndian.AppendUint32(buf, t.Position)

	var flags byte
	if t.HasText {
		flags |= tokenFlagHasText
	}
	if t.HasLogProb {
		flags |= tokenFlagHasLogProb
	}
	if t.Special {
		flags |= tokenFlagSpecial
	}
	buf = append(buf, flags)

	if t.HasLogProb {
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(t.LogProb))
	}
	if t.HasText {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(t.Text)))
		buf = append(buf, t.Text...)
	}
	return buf
}

// Encode serialises the token:
// id:u32_be | position:u32_be | flags:u8 | [logprob:f32_be] |
// [text_len:u16_be | text].
func (t Token) Encode() []byte {
	return t.appendEncode(make([]byte, 0, 32))
}

// DecodeToken parses one token, delivering the bytes consumed.
func DecodeToken(data []byte) (Token, int, error) {
	var t Token
	if len(data) < 9 {
		return t, 0, errors.New("token truncated")
	}

	t.ID = binary.BigEndian.Uint32(data[0:4])
	t.Position = binary.BigEndian.Uint32(data[4:8])
	flags := data[8]
	t.HasText = flags&tokenFlagHasText != 0
	t.HasLogProb = flags&tokenFlagHasLogProb != 0
	t.Special = flags&tokenFlagSpecial != 0
	offset := 9

	if t.HasLogProb {
		if len(data) < offset+4 {
			return t, 0, errors.New("token logprob truncated")
		}
		t.LogProb = math.Float32frombits(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
	}

	if t.HasText {
		if len(data) < offset+2 {
			return t, 0, errors.New("token text length truncated")
		}
		textLen := int(binary.BigEndian.Uint16(data[offset:]))
		offset += 2
		if len(data) < offset+textLen {
			return t, 0, errors.New("token text truncated")
		}
		t.Text = string(data[offset : offset+textLen])
		offset += textLen
	}

	return t, offset, nil
}

// TokenBatch is a self-delimiting group of tokens. SequenceID multiplexes
// concurrent generations over one shared stream; Final marks the last
// batch of a generation.
type TokenBatch struct {
	Tokens        []Token
	SequenceID    uint32
	HasSequenceID bool
	Final         bool
}

// WithSequenceID sets the sequence id.
func (b TokenBatch) WithSequenceID(id uint32) TokenBatch {
	b.SequenceID = id
	b.HasSequenceID = true
	return b
}

// AsFinal marks the batch as the last of its stream.
func (b TokenBatch) AsFinal() TokenBatch {
	b.Final = true
	return b
}

// Len delivers the token count.
func (b TokenBatch) Len() int { return len(b.Tokens) }

const (
	batchFlagHasSequenceID = 0x01
	batchFlagFinal         = 0x02
)

// Encode serialises the batch:
// flags:u8 | [sequence_id:u32_be] | token_count:u16_be | tokens.
func (b TokenBatch) Encode() []byte {
	buf := make([]byte, 0, 8+len(b.Tokens)*32)

	var flags byte
	if b.HasSequenceID {
		flags |= batchFlagHasSequenceID
	}
	if b.Final {
		flags |= batchFlagFinal
	}
	buf = append(buf, flags)

	if b.HasSequenceID {
		buf = binary.BigEndian.AppendUint32(buf, b.SequenceID)
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(b.Tokens)))
	for _, t := range b.Tokens {
		buf = t.appendEncode(buf)
	}
	return buf
}

// DecodeTokenBatch parses a TOKEN_BATCH payload.
func DecodeTokenBatch(data []byte) (TokenBatch, error) {
	var b TokenBatch
	if len(data) == 0 {
		return b, errors.New("empty token batch")
	}

	flags := data[0]
	b.HasSequenceID = flags&batchFlagHasSequenceID != 0
	b.Final = flags&batchFlagFinal != 0
	offset := 1

	if b.HasSequenceID {
		if len(data) < offset+4 {
			return b, errors.New("token batch sequence id truncated")
		}
		b.SequenceID = binary.BigEndian.Uint32(data[offset:])
		offset += 4
	}

	if len(data) < offset+2 {
		return b, errors.New("token batch count truncated")
	}
	count := int(binary.BigEndian.Uint16(data[offset:]))
	offset += 2

	b.Tokens = make([]Token, 0, count)
	for i := 0; i < count; i++ {
		t, n, err := DecodeToken(data[offset:])
		if err != nil {
			return b, errors.Wrapf(err, "token %d", i)
		}
		b.Tokens = append(b.Tokens, t)
		offset += n
	}

	return b, nil
}

// DefaultMaxBatchSize is the default token count before a builder flushes.
const DefaultMaxBatchSize = 32

// BatchBuilder aggregates tokens into batches of bounded size.
type BatchBuilder struct {
	tokens        []Token
	sequenceID    uint32
	hasSequenceID bool
	maxSize       int
}

// NewBatchBuilder creates a builder with the default max batch size.
func NewBatchBuilder() *BatchBuilder {
	return &BatchBuilder{maxSize: DefaultMaxBatchSize}
}

// NewBatchBuilderSize creates a builder flushing at maxSize tokens.
func NewBatchBuilderSize(maxSize int) *BatchBuilder {
	return &BatchBuilder{tokens: make([]Token, 0, maxSize), maxSize: maxSize}
}

// WithSequenceID sets the sequence id stamped on every produced batch.
func (b *BatchBuilder) WithSequenceID(id uint32) *BatchBuilder {
	b.sequenceID = id
	b.hasSequenceID = true
	return b
}

// Push adds a token, delivering a batch once the max size is reached.
func (b *BatchBuilder) Push(t Token) *TokenBatch {
	b.tokens = append(b.tokens, t)
	if len(b.tokens) >= b.maxSize {
		batch := b.Flush()
		return &batch
	}
	return nil
}

// Flush drains accumulated tokens into a non-final batch.
func (b *BatchBuilder) Flush() TokenBatch {
	batch := TokenBatch{
		Tokens:        b.tokens,
		SequenceID:    b.sequenceID,
		HasSequenceID: b.hasSequenceID,
	}
	b.tokens = nil
	return batch
}

// Finish produces the final batch, even if partial.
func (b *BatchBuilder) Finish() TokenBatch {
	batch := b.Flush()
	batch.Final = true
	return batch
}

// Pending delivers the number of unflushed tokens.
func (b *BatchBuilder) Pending() int { return len(b.tokens) }
