package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/jeffhajewski/quill/common"
)

// DefaultCompressionLevel is the zstd level used for response bodies.
const DefaultCompressionLevel = zstd.SpeedDefault

// MinCompressSize is the smallest body worth compressing.
const MinCompressSize = 1024

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(DefaultCompressionLevel))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// acceptsZstd reports whether the client accepts zstd-coded responses.
func acceptsZstd(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "zstd")
}

// compressZstd compresses a response body.
func compressZstd(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// decompressZstd decompresses a request body.
func decompressZstd(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, &common.TransportError{Op: "decompress request", Err: err}
	}
	return out, nil
}

// requestBodyReader wraps the request body in a streaming zstd reader when
// the request announces zstd content coding.
func requestBodyReader(r *http.Request) (io.Reader, error) {
	if r.Header.Get("Content-Encoding") != "zstd" {
		return r.Body, nil
	}
	zr, err := zstd.NewReader(r.Body)
	if err != nil {
		return nil, &common.TransportError{Op: "create zstd reader", Err: err}
	}
	return zr.IOReadCloser(), nil
}

// readRequestBody reads and, if needed, decompresses the full request body.
func readRequestBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, &common.TransportError{Op: "read request body", Err: err}
	}
	if r.Header.Get("Content-Encoding") == "zstd" {
		return decompressZstd(raw)
	}
	return raw, nil
}
