package client

// Defines structs describing quill client configuration.

import (
	"crypto/tls"
	"time"

	"github.com/jeffhajewski/quill/common"
)

// Config defines properties that configure quill client behaviour.
type Config struct {
	// BaseURL of the server, e.g. "http://localhost:8080".
	BaseURL string
	// Preference is the profile preference advertised in the Prefer header.
	Preference common.Preference
	// CallTimeout bounds a single unary call; zero means no timeout.
	CallTimeout time.Duration
	// Compression enables zstd coding of request and response bodies.
	Compression bool
	// TLS configures the transports that require it (Hyper always does).
	TLS *tls.Config
	// InitialCredits seeds the per-stream message credit window.
	InitialCredits uint32
}

// DefaultConfig is the configuration used when none is supplied.
var DefaultConfig = &Config{
	Preference:  common.DefaultPreference(),
	CallTimeout: 30 * time.Second,
}
