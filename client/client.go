package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/net/http2"

	"github.com/jeffhajewski/quill/common"
	"github.com/jeffhajewski/quill/common/flow"
	"github.com/jeffhajewski/quill/common/frame"
)

// Client issues Quill RPCs over the profile its preference selects. All
// four call shapes are exposed: unary, client-streaming, server-streaming
// and bidirectional.
type Client struct {
	cfg  *Config
	http *http.Client

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewClient creates a client. The transport is built from the highest
// profile in the configured preference: Hyper dials HTTP/3 over QUIC,
// Turbo HTTP/2, Classic HTTP/1.1. The Prefer header still advertises the
// full list so the server records the negotiated profile.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("client config requires a base URL")
	}

	c := &Client{cfg: cfg}

	if cfg.Compression {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, errors.Wrap(err, "creating zstd encoder")
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Wrap(err, "creating zstd decoder")
		}
		c.enc, c.dec = enc, dec
	}

	c.http = &http.Client{Transport: transportFor(cfg)}
	return c, nil
}

func transportFor(cfg *Config) http.RoundTripper {
	profiles := cfg.Preference.Profiles()
	top := common.Classic
	if len(profiles) > 0 {
		top = profiles[0]
	}

	switch top {
	case common.Hyper:
		tlsConf := cfg.TLS
		if tlsConf == nil {
			tlsConf = &tls.Config{}
		}
		tlsConf.NextProtos = []string{http3.NextProtoH3}
		return &http3.RoundTripper{
			TLSClientConfig: tlsConf,
			QuicConfig:      &quic.Config{EnableDatagrams: common.Hyper.SupportsDatagrams()},
		}
	case common.Turbo:
		if cfg.TLS != nil {
			return &http2.Transport{TLSClientConfig: cfg.TLS}
		}
		// h2c: HTTP/2 over cleartext TCP.
		return &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		}
	default:
		return &http.Transport{TLSClientConfig: cfg.TLS}
	}
}

// Close releases transport resources.
func (c *Client) Close() error {
	if rt, ok := c.http.Transport.(*http3.RoundTripper); ok {
		return rt.Close()
	}
	c.http.CloseIdleConnections()
	return nil
}

func rpcPath(service, method string) string {
	return "/" + service + "/" + method
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			return context.WithTimeout(ctx, c.cfg.CallTimeout)
		}
	}
	return ctx, func() {}
}

func (c *Client) newRequest(ctx context.Context, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, &common.TransportError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", common.ContentTypeProto)
	req.Header.Set("Accept", common.ContentTypeProto)
	req.Header.Set(common.PreferHeader, c.cfg.Preference.HeaderValue())
	if c.cfg.Compression {
		req.Header.Set("Accept-Encoding", "zstd")
	}
	return req, nil
}

// Call issues a unary RPC, returning the response bytes or an error mapped
// from the response status: a parsed Problem for structured errors, an
// RPCError otherwise.
func (c *Client) Call(ctx context.Context, service, method string, request []byte) ([]byte, error) {
	path := rpcPath(service, method)
	trace := ContextClientTrace(ctx)
	trace.CallStart(path)

	var (
		body []byte
		err  error
	)
	defer func(begin time.Time) {
		status := 0
		if err == nil {
			status = http.StatusOK
		} else if p, ok := err.(*common.Problem); ok {
			status = p.Status
		} else if r, ok := err.(*common.RPCError); ok {
			status = r.Status
		}
		trace.CallDone(path, status, err, time.Since(begin))
	}(time.Now())

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	payload := request
	compressed := false
	if c.cfg.Compression && len(request) > 0 {
		payload = c.enc.EncodeAll(request, nil)
		compressed = true
	}

	req, rerr := c.newRequest(ctx, path, bytes.NewReader(payload))
	if rerr != nil {
		err = rerr
		return nil, err
	}
	if compressed {
		req.Header.Set("Content-Encoding", "zstd")
	}

	resp, derr := c.http.Do(req)
	if derr != nil {
		err = &common.TransportError{Op: "send request", Err: derr}
		trace.Error("Call", path, err)
		return nil, err
	}
	defer resp.Body.Close()

	raw, rdErr := io.ReadAll(resp.Body)
	if rdErr != nil {
		err = &common.TransportError{Op: "read response", Err: rdErr}
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err = mapErrorResponse(resp.StatusCode, raw)
		return nil, err
	}

	body, err = c.decodeBody(resp, raw)
	return body, err
}

func (c *Client) decodeBody(resp *http.Response, raw []byte) ([]byte, error) {
	if resp.Header.Get("Content-Encoding") != "zstd" {
		return raw, nil
	}
	if c.dec == nil {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Wrap(err, "creating zstd decoder")
		}
		c.dec = dec
	}
	out, err := c.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, &common.TransportError{Op: "decompress response", Err: err}
	}
	return out, nil
}

// mapErrorResponse maps a non-2xx response body, preferring a structured
// Problem parse before falling back to unstructured error text.
func mapErrorResponse(status int, body []byte) error {
	if p, ok := common.ParseProblem(body); ok {
		return p
	}
	return &common.RPCError{Status: status, Body: string(body)}
}

// CallClientStreaming encodes each message of the sequence as a data
// frame, appends an end-stream frame, sends the framed body and returns
// the unary response bytes.
func (c *Client) CallClientStreaming(ctx context.Context, service, method string, msgs MessageStream) ([]byte, error) {
	path := rpcPath(service, method)
	trace := ContextClientTrace(ctx)
	trace.CallStart(path)

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	pr, pw := io.Pipe()
	go c.writeFrameStream(ctx, path, msgs, pw, nil, trace)

	req, err := c.newRequest(ctx, path, pr)
	if err != nil {
		return nil, err
	}
	if c.cfg.Compression {
		req.Header.Set("Content-Encoding", "zstd")
	}

	begin := time.Now()
	resp, derr := c.http.Do(req)
	if derr != nil {
		terr := &common.TransportError{Op: "send request", Err: derr}
		trace.CallDone(path, 0, terr, time.Since(begin))
		return nil, terr
	}
	defer resp.Body.Close()

	raw, rdErr := io.ReadAll(resp.Body)
	if rdErr != nil {
		return nil, &common.TransportError{Op: "read response", Err: rdErr}
	}
	if resp.StatusCode != http.StatusOK {
		mapped := mapErrorResponse(resp.StatusCode, raw)
		trace.CallDone(path, resp.StatusCode, mapped, time.Since(begin))
		return nil, mapped
	}

	trace.CallDone(path, resp.StatusCode, nil, time.Since(begin))
	return c.decodeBody(resp, raw)
}

// CallServerStreaming sends a unary request and returns a lazy message
// sequence over the response body. END_STREAM terminates the sequence,
// CANCEL yields an error item. CREDIT frames are read and dropped: this
// call keeps no credit counter.
func (c *Client) CallServerStreaming(ctx context.Context, service, method string, request []byte) (*ResponseStream, error) {
	path := rpcPath(service, method)
	trace := ContextClientTrace(ctx)
	trace.CallStart(path)

	ctx, httpCancel := context.WithCancel(ctx)

	// The request is a single message, framed so the server's streaming
	// adapter sees one data frame followed by end-stream.
	w := frame.NewWriter()
	w.Send(request)
	body := w.Bytes()
	compressed := false
	if c.cfg.Compression {
		body = c.enc.EncodeAll(body, nil)
		compressed = true
	}

	req, err := c.newRequest(ctx, path, bytes.NewReader(body))
	if err != nil {
		httpCancel()
		return nil, err
	}
	if compressed {
		req.Header.Set("Content-Encoding", "zstd")
	}

	resp, derr := c.http.Do(req)
	if derr != nil {
		httpCancel()
		return nil, &common.TransportError{Op: "send request", Err: derr}
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		httpCancel()
		return nil, mapErrorResponse(resp.StatusCode, raw)
	}

	return c.newResponseStream(path, resp, httpCancel, nil, trace)
}

// CallBidiStreaming encodes the outbound sequence as a framed request body
// and returns the framed inbound sequence with the same parsing discipline
// as the server-streaming case. Outbound sends honour message credits
// granted by CREDIT frames on the inbound stream when the profile makes
// flow control effective.
func (c *Client) CallBidiStreaming(ctx context.Context, service, method string, msgs MessageStream) (*ResponseStream, error) {
	path := rpcPath(service, method)
	trace := ContextClientTrace(ctx)
	trace.CallStart(path)

	ctx, httpCancel := context.WithCancel(ctx)

	initial := c.cfg.InitialCredits
	if initial == 0 {
		initial = flow.DefaultInitialCredits
	}
	sendCredits := flow.NewCreditTracker(initial)

	pr, pw := io.Pipe()
	go c.writeFrameStream(ctx, path, msgs, pw, sendCredits, trace)

	req, err := c.newRequest(ctx, path, pr)
	if err != nil {
		httpCancel()
		return nil, err
	}
	if c.cfg.Compression {
		req.Header.Set("Content-Encoding", "zstd")
	}

	resp, derr := c.http.Do(req)
	if derr != nil {
		httpCancel()
		return nil, &common.TransportError{Op: "send request", Err: derr}
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		httpCancel()
		return nil, mapErrorResponse(resp.StatusCode, raw)
	}

	return c.newResponseStream(path, resp, httpCancel, sendCredits, trace)
}

// writeFrameStream pulls messages and writes data frames onto the request
// body, terminating with an end-stream frame. Sends park on credit when
// the profile supports mid-stream grants.
func (c *Client) writeFrameStream(ctx context.Context, path string, msgs MessageStream,
	pw *io.PipeWriter, credits *flow.CreditTracker, trace *ClientTrace) {

	var w io.Writer = pw
	var zw *zstd.Encoder
	if c.cfg.Compression {
		var err error
		zw, err = zstd.NewWriter(pw)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		w = zw
	}

	flowEffective := credits != nil && topProfile(c.cfg.Preference).FlowControlEffective()

	sent := 0
	for {
		msg, err := msgs.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			trace.Error("writeFrameStream", path, err)
			pw.CloseWithError(err)
			return
		}

		if flowEffective {
			if err := credits.Acquire(ctx); err != nil {
				pw.CloseWithError(err)
				return
			}
		}

		if _, err := w.Write(frame.Data(msg).Encode()); err != nil {
			pw.CloseWithError(err)
			return
		}
		sent++
		trace.MessageSent(path, sent)
	}

	_, werr := w.Write(frame.EndStream().Encode())
	if werr == nil && zw != nil {
		werr = zw.Close()
	}
	if werr != nil {
		pw.CloseWithError(werr)
		return
	}
	_ = pw.Close()
}

func topProfile(pref common.Preference) common.Profile {
	profiles := pref.Profiles()
	if len(profiles) == 0 {
		return common.Classic
	}
	return profiles[0]
}
