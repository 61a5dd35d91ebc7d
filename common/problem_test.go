package common

import (
	"encoding/json"
	"testing"

	assert "github.com/stretchr/testify/require"
)

func TestProblemJSONShape(t *testing.T) {
	p := NewProblem(404, "Resource not found").WithDetail("no such image")

	var decoded map[string]interface{}
	assert.NoError(t, json.Unmarshal(p.JSON(), &decoded))
	assert.Equal(t, "urn:quill:error:404", decoded["type"])
	assert.Equal(t, "Resource not found", decoded["title"])
	assert.Equal(t, float64(404), decoded["status"])
	assert.Equal(t, "no such image", decoded["detail"])
	assert.NotContains(t, decoded, "instance")
	assert.NotContains(t, decoded, "quill_proto_type")
}

func TestProblemInstance(t *testing.T) {
	p := NewProblem(500, "boom").WithInstance()
	assert.Contains(t, p.Instance, "urn:uuid:")
}

func TestProblemError(t *testing.T) {
	assert.Equal(t, "[503] unavailable", NewProblem(503, "unavailable").Error())
	assert.Equal(t, "[503] unavailable: backend down",
		NewProblem(503, "unavailable").WithDetail("backend down").Error())
}

func TestParseProblem(t *testing.T) {
	p, ok := ParseProblem([]byte(`{"type":"urn:quill:error:429","title":"slow down","status":429}`))
	assert.True(t, ok)
	assert.Equal(t, 429, p.Status)
	assert.Equal(t, "slow down", p.Title)

	_, ok = ParseProblem([]byte("internal server error"))
	assert.False(t, ok)

	_, ok = ParseProblem([]byte(`{"message":"not a problem"}`))
	assert.False(t, ok)
}

func TestErrorKinds(t *testing.T) {
	te := &TransportError{Op: "dial", Err: assert.AnError}
	assert.Contains(t, te.Error(), "dial")
	assert.Equal(t, assert.AnError, te.Unwrap())

	re := &RPCError{Status: 500, Body: "oops"}
	assert.Contains(t, re.Error(), "500")

	assert.Equal(t, "stream cancelled", (&CancelledError{}).Error())
	assert.Equal(t, "stream cancelled: timeout", (&CancelledError{Reason: "timeout"}).Error())
}
