package tensor

import (
	"testing"

	assert "github.com/stretchr/testify/require"
)

func TestFrameTypeProperties(t *testing.T) {
	assert.True(t, TypeTensorMeta.IsTensorFrame())
	assert.True(t, TypeTensorPayload.IsTensorFrame())
	assert.False(t, TypeProtoMsg.IsTensorFrame())

	assert.True(t, TypeEndStream.IsTerminal())
	assert.True(t, TypeCancel.IsTerminal())
	assert.False(t, TypeTensorPayload.IsTerminal())

	assert.Equal(t, "TENSOR_META", TypeTensorMeta.String())
	assert.Equal(t, "TOKEN_BATCH", TypeTokenBatch.String())
}

func TestTensorFrameRoundtrip(t *testing.T) {
	f := PayloadFrame([]byte("hello tensor"))
	encoded := f.Encode()
	assert.Equal(t, HeaderSize+12, len(encoded))

	p := NewParser()
	p.Feed(encoded)

	decoded, err := p.Next()
	assert.NoError(t, err)
	assert.Equal(t, TypeTensorPayload, decoded.Type)
	assert.Equal(t, "hello tensor", string(decoded.Payload))
}

func TestTensorFrameSequence(t *testing.T) {
	var buf []byte
	buf = MetaFrame([]byte("meta")).AppendEncode(buf)
	buf = PayloadFrame([]byte("payload data")).AppendEncode(buf)
	buf = EndStreamFrame().AppendEncode(buf)

	p := NewParser()
	p.Feed(buf)

	f, err := p.Next()
	assert.NoError(t, err)
	assert.Equal(t, TypeTensorMeta, f.Type)

	f, err = p.Next()
	assert.NoError(t, err)
	assert.Equal(t, TypeTensorPayload, f.Type)
	assert.Equal(t, "payload data", string(f.Payload))

	f, err = p.Next()
	assert.NoError(t, err)
	assert.Equal(t, TypeEndStream, f.Type)
	assert.Empty(t, f.Payload)

	f, err = p.Next()
	assert.NoError(t, err)
	assert.Nil(t, f)
}

func TestTensorFramePartialFeed(t *testing.T) {
	encoded := PayloadFrame([]byte("test data")).Encode()

	for i := 1; i < len(encoded); i++ {
		p := NewParser()
		p.Feed(encoded[:i])

		f, err := p.Next()
		assert.NoError(t, err, "split %d", i)
		assert.Nil(t, f, "split %d", i)

		p.Feed(encoded[i:])
		f, err = p.Next()
		assert.NoError(t, err)
		assert.NotNil(t, f)
		assert.Equal(t, TypeTensorPayload, f.Type)
	}
}

func TestUnknownFrameType(t *testing.T) {
	encoded := PayloadFrame([]byte("x")).Encode()
	encoded[0] = 0xFF

	p := NewParser()
	p.Feed(encoded)

	_, err := p.Next()
	var unknown *UnknownFrameTypeError
	assert.ErrorAs(t, err, &unknown)
	assert.Equal(t, byte(0xFF), unknown.Value)
}

func TestTensorCreditFrame(t *testing.T) {
	f := CreditFrame(1024 * 1024)
	p := NewParser()
	p.Feed(f.Encode())

	decoded, err := p.Next()
	assert.NoError(t, err)
	assert.Equal(t, TypeCredit, decoded.Type)

	granted, ok := decoded.DecodeCredit()
	assert.True(t, ok)
	assert.Equal(t, uint64(1024*1024), granted)
}

func TestCancelFrameReason(t *testing.T) {
	f := CancelFrame("timeout")
	assert.Equal(t, TypeCancel, f.Type)
	assert.Equal(t, "timeout", string(f.Payload))

	none := CancelFrame("")
	assert.Empty(t, none.Payload)
}

func TestReservedBytesPreserved(t *testing.T) {
	f := PayloadFrame([]byte("data"))
	f.Reserved = [4]byte{ReservedCompressed, 0, 0, 0}

	p := NewParser()
	p.Feed(f.Encode())

	decoded, err := p.Next()
	assert.NoError(t, err)
	assert.Equal(t, byte(ReservedCompressed), decoded.Reserved[0])
}
