package client

import (
	"context"
	"log"
	"time"

	"github.com/imdario/mergo"
)

// unique type to prevent assignment.
type clientEventContextKey struct{}

// ContextClientTrace returns the ClientTrace associated with the provided
// context, merged with no-op defaults.
func ContextClientTrace(ctx context.Context) *ClientTrace {
	trace, _ := ctx.Value(clientEventContextKey{}).(*ClientTrace)
	if trace == nil {
		trace = NoOpLoggingHooks
	} else {
		_ = mergo.Merge(trace, NoOpLoggingHooks)
	}
	return trace
}

// WithClientTrace returns a new context based on the provided parent ctx.
// Quill calls made with the returned context will use the provided trace
// hooks.
func WithClientTrace(ctx context.Context, trace *ClientTrace) context.Context {
	return context.WithValue(ctx, clientEventContextKey{}, trace)
}

// ClientTrace defines a structure for handling trace events on the client
// side of an RPC.
type ClientTrace struct {
	// CallStart is called before an RPC is issued.
	CallStart func(path string)

	// CallDone is called when an RPC completes, with status carrying the
	// HTTP status code (0 when the request never reached the server).
	CallDone func(path string, status int, err error, d time.Duration)

	// MessageSent is called after a data frame has been written to an
	// outbound stream.
	MessageSent func(path string, count int)

	// MessageReceived is called after a data frame has been read from an
	// inbound stream.
	MessageReceived func(path string, count int)

	// RetryWait is called before a retry backoff sleep.
	RetryWait func(path string, attempt int, d time.Duration)

	// StreamCancelled is called when the local side cancels a stream.
	StreamCancelled func(path string, reason string)

	// Error is called after an error condition has been detected.
	Error func(context, path string, err error)
}

// DefaultLoggingHooks provides a default logging hook to report errors.
var DefaultLoggingHooks = &ClientTrace{
	Error: func(context, path string, err error) {
		log.Printf("QUILL-Error context:%s path:%s err:%v\n", context, path, err)
	},
}

// MetricLoggingHooks provides a set of hooks that will log call metrics.
var MetricLoggingHooks = &ClientTrace{
	CallDone: func(path string, status int, err error, d time.Duration) {
		log.Printf("QUILL-CallDone path:%s status:%d err:%v took:%dms\n", path, status, err, d.Milliseconds())
	},
	Error: DefaultLoggingHooks.Error,
}

// DiagnosticLoggingHooks provides a set of default diagnostic hooks.
var DiagnosticLoggingHooks = &ClientTrace{
	CallStart: func(path string) {
		log.Printf("QUILL-CallStart path:%s\n", path)
	},
	CallDone: MetricLoggingHooks.CallDone,
	MessageSent: func(path string, count int) {
		log.Printf("QUILL-MessageSent path:%s count:%d\n", path, count)
	},
	MessageReceived: func(path string, count int) {
		log.Printf("QUILL-MessageReceived path:%s count:%d\n", path, count)
	},
	RetryWait: func(path string, attempt int, d time.Duration) {
		log.Printf("QUILL-RetryWait path:%s attempt:%d wait:%dms\n", path, attempt, d.Milliseconds())
	},
	StreamCancelled: func(path, reason string) {
		log.Printf("QUILL-StreamCancelled path:%s reason:%s\n", path, reason)
	},
	Error: DefaultLoggingHooks.Error,
}

// NoOpLoggingHooks provides a set of hooks that do nothing.
var NoOpLoggingHooks = &ClientTrace{
	CallStart:       func(path string) {},
	CallDone:        func(path string, status int, err error, d time.Duration) {},
	MessageSent:     func(path string, count int) {},
	MessageReceived: func(path string, count int) {},
	RetryWait:       func(path string, attempt int, d time.Duration) {},
	StreamCancelled: func(path, reason string) {},
	Error:           func(context, path string, err error) {},
}
