package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeffhajewski/quill/common"
)

// UnaryHandler handles a unary RPC: full request bytes in, response bytes
// or error out.
type UnaryHandler func(ctx context.Context, request []byte) ([]byte, error)

// StreamingHandler handles a streaming RPC. It drains messages from the
// request stream and returns either a unary response or a response stream.
type StreamingHandler func(ctx context.Context, stream *RequestStream) (*Response, error)

// MessageSource is a pull-based sequence of response messages; Next
// delivers io.EOF at the end of the sequence.
type MessageSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// Response is the tagged result of a streaming handler.
type Response struct {
	unary  []byte
	source MessageSource
}

// Unary creates a single-message response.
func Unary(body []byte) *Response {
	return &Response{unary: body}
}

// Streaming creates a streamed response.
func Streaming(source MessageSource) *Response {
	return &Response{source: source}
}

// SourceFunc adapts a function to a MessageSource.
type SourceFunc func(ctx context.Context) ([]byte, error)

func (f SourceFunc) Next(ctx context.Context) ([]byte, error) { return f(ctx) }

// SliceSource yields a fixed set of messages.
func SliceSource(msgs ...[]byte) MessageSource {
	i := 0
	return SourceFunc(func(context.Context) ([]byte, error) {
		if i >= len(msgs) {
			return nil, io.EOF
		}
		msg := msgs[i]
		i++
		return msg, nil
	})
}

type route struct {
	unary     UnaryHandler
	streaming StreamingHandler
}

// Router maps paths of the form "{package}.{Service}/{Method}" to handler
// records and drives the streaming I/O of dispatched requests.
type Router struct {
	cfg *Config
	obs *Collector
	log *logrus.Entry

	mu     sync.RWMutex
	routes map[string]*route
}

// NewRouter creates a router.
func NewRouter(cfg *Config, obs *Collector) *Router {
	if cfg == nil {
		cfg = DefaultConfig
	}
	if obs == nil {
		obs = NewCollector()
	}
	return &Router{
		cfg:    cfg,
		obs:    obs,
		log:    logrus.WithField("component", "quill.router"),
		routes: make(map[string]*route),
	}
}

// Collector delivers the router's observability collector.
func (rt *Router) Collector() *Collector { return rt.obs }

// Register adds a unary handler. Path format: "{package}.{Service}/{Method}".
func (rt *Router) Register(path string, h UnaryHandler) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.routes[strings.TrimPrefix(path, "/")] = &route{unary: h}
}

// RegisterStreaming adds a streaming handler.
func (rt *Router) RegisterStreaming(path string, h StreamingHandler) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.routes[strings.TrimPrefix(path, "/")] = &route{streaming: h}
}

func (rt *Router) lookup(path string) *route {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.routes[path]
}

// ParseRPCPath splits a request path into (service, method).
func ParseRPCPath(path string) (service, method string, ok bool) {
	path = strings.TrimPrefix(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

type profileContextKey struct{}

// NegotiatedProfile delivers the profile negotiated for the request.
func NegotiatedProfile(ctx context.Context) common.Profile {
	p, _ := ctx.Value(profileContextKey{}).(common.Profile)
	return p
}

// ServeHTTP dispatches an inbound RPC.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	begin := time.Now()
	path := r.URL.Path
	trace := ContextServerTrace(r.Context())
	trace.RequestReceived(path)

	profile := common.NegotiateProfile(r.Header.Get(common.PreferHeader), rt.cfg.Profiles)
	trace.Negotiated(path, profile)
	ctx := context.WithValue(r.Context(), profileContextKey{}, profile)

	rt.obs.RecordRequestStart(path, int(r.ContentLength))
	status, respBytes := rt.dispatch(ctx, w, r, profile)
	rt.obs.RecordRequestComplete(path, time.Since(begin), respBytes, status < 400)
	trace.RequestDone(path, status, time.Since(begin))
}

func (rt *Router) dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, profile common.Profile) (int, int) {
	if r.Method != http.MethodPost {
		p := common.NewProblem(http.StatusMethodNotAllowed, "Method not allowed").
			WithDetail("Only POST is supported for RPC calls")
		return rt.writeProblem(w, p)
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	route := rt.lookup(path)
	if route == nil {
		p := common.NewProblem(http.StatusNotFound, "Method not found").
			WithDetail("No handler registered for path: /" + path)
		return rt.writeProblem(w, p)
	}

	if route.unary != nil {
		return rt.dispatchUnary(ctx, w, r, route.unary)
	}
	return rt.dispatchStreaming(ctx, w, r, route.streaming, profile)
}

func (rt *Router) dispatchUnary(ctx context.Context, w http.ResponseWriter, r *http.Request, h UnaryHandler) (int, int) {
	body, err := readRequestBody(r)
	if err != nil {
		p := common.NewProblem(http.StatusBadRequest, "Failed to read request body").
			WithDetail(err.Error())
		return rt.writeProblem(w, p)
	}

	response, err := h(ctx, body)
	if err != nil {
		return rt.writeError(w, r.URL.Path, err)
	}
	return rt.writeUnary(w, r, response)
}

func (rt *Router) dispatchStreaming(ctx context.Context, w http.ResponseWriter, r *http.Request,
	h StreamingHandler, profile common.Profile) (int, int) {

	body, err := requestBodyReader(r)
	if err != nil {
		p := common.NewProblem(http.StatusBadRequest, "Failed to read request body").
			WithDetail(err.Error())
		return rt.writeProblem(w, p)
	}

	fw := newFrameWriter(w)
	stream := NewRequestStream(body, rt.cfg.CreditRefill, fw.GrantCredit)

	response, err := h(ctx, stream)
	if err != nil {
		return rt.writeError(w, r.URL.Path, err)
	}

	if response.source == nil {
		return rt.writeUnary(w, r, response.unary)
	}

	// Streaming response: headers go out before the first message, so
	// failures past this point can only truncate the stream.
	w.Header().Set("Content-Type", common.ContentTypeProto)
	w.WriteHeader(http.StatusOK)

	written := 0
	for {
		msg, err := response.source.Next(ctx)
		if err == io.EOF {
			_ = fw.End()
			break
		}
		if err != nil {
			rt.log.WithError(err).WithField("path", r.URL.Path).
				Error("streaming handler failed past headers; closing stream")
			break
		}

		// Server-to-client flow control is advisory below Turbo; emission
		// never parks on a client that cannot interleave credit frames.
		if profile.FlowControlEffective() {
			stream.SendCredits().TryConsume()
		}

		if werr := fw.WriteMessage(msg); werr != nil {
			rt.log.WithError(werr).WithField("path", r.URL.Path).
				Warn("response stream write failed")
			break
		}
		written += len(msg)
	}

	return http.StatusOK, written
}

func (rt *Router) writeUnary(w http.ResponseWriter, r *http.Request, response []byte) (int, int) {
	w.Header().Set("Content-Type", common.ContentTypeProto)
	if rt.cfg.Compression && acceptsZstd(r) && len(response) >= MinCompressSize {
		response = compressZstd(response)
		w.Header().Set("Content-Encoding", "zstd")
	}
	w.WriteHeader(http.StatusOK)
	n, _ := w.Write(response)
	return http.StatusOK, n
}

// writeError serialises a handler error: structured problems propagate
// with their declared status, anything else becomes a synthesized 500.
func (rt *Router) writeError(w http.ResponseWriter, path string, err error) (int, int) {
	if p, ok := err.(*common.Problem); ok {
		return rt.writeProblem(w, p)
	}
	p := common.NewProblem(http.StatusInternalServerError, "Internal server error").
		WithDetail(err.Error()).WithInstance()
	rt.log.WithError(err).WithField("path", path).
		WithField("instance", p.Instance).Error("handler failed")
	return rt.writeProblem(w, p)
}

func (rt *Router) writeProblem(w http.ResponseWriter, p *common.Problem) (int, int) {
	body := p.JSON()
	w.Header().Set("Content-Type", common.ContentTypeProblem)
	w.WriteHeader(p.Status)
	n, _ := w.Write(body)
	return p.Status, n
}
