package server

// Defines structs describing quill server configuration.

import (
	"crypto/tls"

	"github.com/jeffhajewski/quill/common"
	"github.com/jeffhajewski/quill/common/flow"
)

// Config defines properties that configure quill server behaviour.
type Config struct {
	// Address to listen on, e.g. ":8080".
	Address string
	// Profiles the server supports, used for Prefer-header negotiation and
	// listener selection. Hyper requires TLS.
	Profiles []common.Profile
	// Compression enables zstd coding of response bodies for clients that
	// accept it.
	Compression bool
	// TLS enables the TLS listeners; required for the Hyper profile.
	TLS *tls.Config
	// InitialCredits is not read by the router or the request stream; each
	// client seeds its own send window from its own configuration.
	InitialCredits uint32
	// CreditRefill is the drained-message threshold at which the server
	// grants the client more send credit.
	CreditRefill uint32
}

// DefaultConfig is the configuration used when none is supplied.
var DefaultConfig = &Config{
	Address:        ":8080",
	Profiles:       []common.Profile{common.Turbo, common.Classic},
	InitialCredits: flow.DefaultInitialCredits,
	CreditRefill:   flow.DefaultCreditRefill,
}
