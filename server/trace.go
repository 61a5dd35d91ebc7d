package server

import (
	"context"
	"log"
	"time"

	"github.com/imdario/mergo"

	"github.com/jeffhajewski/quill/common"
)

// unique type to prevent assignment.
type serverEventContextKey struct{}

// ContextServerTrace returns the ServerTrace associated with the provided
// context, merged with no-op defaults.
func ContextServerTrace(ctx context.Context) *ServerTrace {
	trace, _ := ctx.Value(serverEventContextKey{}).(*ServerTrace)
	if trace == nil {
		trace = NoOpServerHooks
	} else {
		_ = mergo.Merge(trace, NoOpServerHooks)
	}
	return trace
}

// WithServerTrace returns a new context based on the provided parent ctx
// carrying the supplied trace hooks.
func WithServerTrace(ctx context.Context, trace *ServerTrace) context.Context {
	return context.WithValue(ctx, serverEventContextKey{}, trace)
}

// ServerTrace defines a structure for handling server-side trace events.
type ServerTrace struct {
	// RequestReceived is called when a request arrives, before dispatch.
	RequestReceived func(path string)

	// Negotiated is called after profile negotiation for a request.
	Negotiated func(path string, profile common.Profile)

	// RequestDone is called after the response has been written.
	RequestDone func(path string, status int, d time.Duration)

	// Error is called after an error condition has been detected.
	Error func(context, path string, err error)
}

// DefaultServerHooks provides a default logging hook to report errors.
var DefaultServerHooks = &ServerTrace{
	Error: func(context, path string, err error) {
		log.Printf("QUILL-Error context:%s path:%s err:%v\n", context, path, err)
	},
}

// DiagnosticServerHooks provides a set of default diagnostic hooks.
var DiagnosticServerHooks = &ServerTrace{
	RequestReceived: func(path string) {
		log.Printf("QUILL-RequestReceived path:%s\n", path)
	},
	Negotiated: func(path string, profile common.Profile) {
		log.Printf("QUILL-Negotiated path:%s profile:%s weight:%.1f\n", path, profile, profile.Weight())
	},
	RequestDone: func(path string, status int, d time.Duration) {
		log.Printf("QUILL-RequestDone path:%s status:%d took:%dms\n", path, status, d.Milliseconds())
	},
	Error: DefaultServerHooks.Error,
}

// NoOpServerHooks provides a set of hooks that do nothing.
var NoOpServerHooks = &ServerTrace{
	RequestReceived: func(path string) {},
	Negotiated:      func(path string, profile common.Profile) {},
	RequestDone:     func(path string, status int, d time.Duration) {},
	Error:           func(context, path string, err error) {},
}
