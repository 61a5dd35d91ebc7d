package common

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Content types used on the wire.
const (
	ContentTypeProto   = "application/proto"
	ContentTypeProblem = "application/problem+json"
)

// Problem is a structured error body per RFC 7807, with Quill extensions
// for carrying proto-typed error payloads.
type Problem struct {
	// Type is a URI reference identifying the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation of this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying this occurrence.
	Instance string `json:"instance,omitempty"`
	// ProtoType names the protobuf type of a typed error payload.
	ProtoType string `json:"quill_proto_type,omitempty"`
	// ProtoDetailBase64 carries the base64-encoded protobuf payload.
	ProtoDetailBase64 string `json:"quill_proto_detail_base64,omitempty"`
}

// NewProblem creates a Problem with the given status and title.
func NewProblem(status int, title string) *Problem {
	return &Problem{
		Type:   fmt.Sprintf("urn:quill:error:%d", status),
		Title:  title,
		Status: status,
	}
}

// WithDetail sets the detail field.
func (p *Problem) WithDetail(detail string) *Problem {
	p.Detail = detail
	return p
}

// WithInstance stamps a unique instance URI on this occurrence.
func (p *Problem) WithInstance() *Problem {
	p.Instance = "urn:uuid:" + uuid.NewString()
	return p
}

func (p *Problem) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("[%d] %s: %s", p.Status, p.Title, p.Detail)
	}
	return fmt.Sprintf("[%d] %s", p.Status, p.Title)
}

// JSON serialises the problem for an application/problem+json body.
func (p *Problem) JSON() []byte {
	b, err := json.Marshal(p)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// ParseProblem attempts to decode a response body as a Problem.
// A body that is not a problem document (or lacks a status) yields ok=false.
func ParseProblem(body []byte) (*Problem, bool) {
	var p Problem
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, false
	}
	if p.Status == 0 {
		return nil, false
	}
	return &p, true
}
