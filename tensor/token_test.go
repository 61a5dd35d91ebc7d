package tensor

import (
	"testing"

	assert "github.com/stretchr/testify/require"
)

func TestTokenRoundtrip(t *testing.T) {
	tok := NewToken(1234, 5).WithText("test").WithLogProb(-1.5).AsSpecial()

	decoded, n, err := DecodeToken(tok.Encode())
	assert.NoError(t, err)
	assert.Equal(t, len(tok.Encode()), n)
	assert.Equal(t, tok, decoded)
}

func TestTokenMinimal(t *testing.T) {
	tok := NewToken(42, 0)
	encoded := tok.Encode()
	assert.Len(t, encoded, 9)

	decoded, _, err := DecodeToken(encoded)
	assert.NoError(t, err)
	assert.Equal(t, uint32(42), decoded.ID)
	assert.False(t, decoded.HasText)
	assert.False(t, decoded.HasLogProb)
	assert.False(t, decoded.Special)
}

func TestTokenEmptyTextDistinctFromAbsent(t *testing.T) {
	withEmpty := NewToken(1, 0).WithText("")
	decoded, _, err := DecodeToken(withEmpty.Encode())
	assert.NoError(t, err)
	assert.True(t, decoded.HasText)
	assert.Equal(t, "", decoded.Text)
}

func TestTokenTruncated(t *testing.T) {
	tok := NewToken(7, 3).WithText("hello")
	encoded := tok.Encode()

	for i := 1; i < len(encoded); i++ {
		_, _, err := DecodeToken(encoded[:i])
		assert.Error(t, err, "length %d", i)
	}
}

func TestTokenBatchRoundtrip(t *testing.T) {
	batch := TokenBatch{
		Tokens: []Token{
			NewToken(1, 0).WithText("a"),
			NewToken(2, 1).WithLogProb(-0.25),
			NewToken(3, 2),
		},
	}.WithSequenceID(42).AsFinal()

	decoded, err := DecodeTokenBatch(batch.Encode())
	assert.NoError(t, err)
	assert.Equal(t, 3, decoded.Len())
	assert.True(t, decoded.HasSequenceID)
	assert.Equal(t, uint32(42), decoded.SequenceID)
	assert.True(t, decoded.Final)
	assert.Equal(t, batch.Tokens, decoded.Tokens)
}

func TestTokenBatchNoSequenceID(t *testing.T) {
	batch := TokenBatch{Tokens: []Token{NewToken(9, 0)}}
	decoded, err := DecodeTokenBatch(batch.Encode())
	assert.NoError(t, err)
	assert.False(t, decoded.HasSequenceID)
	assert.False(t, decoded.Final)
}

func TestBatchBuilderFlushesAtMaxSize(t *testing.T) {
	b := NewBatchBuilderSize(3)

	assert.Nil(t, b.Push(NewToken(1, 0)))
	assert.Nil(t, b.Push(NewToken(2, 1)))

	batch := b.Push(NewToken(3, 2))
	assert.NotNil(t, batch)
	assert.Equal(t, 3, batch.Len())
	assert.False(t, batch.Final)
	assert.Equal(t, 0, b.Pending())
}

func TestBatchBuilderFinishProducesFinalEvenIfPartial(t *testing.T) {
	b := NewBatchBuilderSize(8).WithSequenceID(7)
	b.Push(NewToken(1, 0))

	final := b.Finish()
	assert.True(t, final.Final)
	assert.Equal(t, 1, final.Len())
	assert.True(t, final.HasSequenceID)
	assert.Equal(t, uint32(7), final.SequenceID)
}

func TestTokenBatchFrame(t *testing.T) {
	batch := TokenBatch{Tokens: []Token{NewToken(11, 0).WithText("hi")}}.AsFinal()
	f := TokenBatchFrame(batch.Encode())

	p := NewParser()
	p.Feed(f.Encode())
	decoded, err := p.Next()
	assert.NoError(t, err)
	assert.Equal(t, TypeTokenBatch, decoded.Type)

	back, err := DecodeTokenBatch(decoded.Payload)
	assert.NoError(t, err)
	assert.True(t, back.Final)
	assert.Equal(t, "hi", back.Tokens[0].Text)
}
