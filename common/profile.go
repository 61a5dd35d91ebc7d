package common

import (
	"fmt"
	"strings"
)

// Profile identifies a prism transport profile.
type Profile uint8

const (
	// Classic is HTTP/1.1 (chunked), for legacy and enterprise proxies.
	Classic Profile = iota
	// Turbo is HTTP/2 end-to-end, for cluster-internal traffic.
	Turbo
	// Hyper is HTTP/3 over QUIC, for browser/mobile, lossy networks and edge.
	Hyper
)

// PreferHeader is the request header carrying the client profile preference.
const PreferHeader = "Prefer"

func (p Profile) String() string {
	switch p {
	case Classic:
		return "classic"
	case Turbo:
		return "turbo"
	case Hyper:
		return "hyper"
	}
	return fmt.Sprintf("profile(%d)", uint8(p))
}

// Weight delivers the negotiation weight. It is used only for logging.
func (p Profile) Weight() float64 {
	switch p {
	case Hyper:
		return 1.0
	case Turbo:
		return 0.8
	default:
		return 0.5
	}
}

// SupportsDatagrams reports whether the profile supports HTTP/3 datagrams.
func (p Profile) SupportsDatagrams() bool { return p == Hyper }

// SupportsZeroRTT reports whether the profile supports 0-RTT.
func (p Profile) SupportsZeroRTT() bool { return p == Hyper }

// FlowControlEffective reports whether credit-based back-pressure is fully
// effective on this profile. Under Classic the sender falls back to
// transport-level back-pressure for the client-to-server direction.
func (p Profile) FlowControlEffective() bool { return p != Classic }

// ParseProfile parses a profile name, case-insensitively.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "classic":
		return Classic, nil
	case "turbo":
		return Turbo, nil
	case "hyper":
		return Hyper, nil
	}
	return Classic, fmt.Errorf("unknown profile: %q", s)
}

// Preference is an ordered profile preference list for negotiation.
type Preference struct {
	profiles []Profile
}

// NewPreference creates a preference list, most preferred first.
func NewPreference(profiles ...Profile) Preference {
	return Preference{profiles: profiles}
}

// DefaultPreference prefers hyper over turbo over classic.
func DefaultPreference() Preference {
	return NewPreference(Hyper, Turbo, Classic)
}

// Profiles delivers the profiles in preference order.
func (pr Preference) Profiles() []Profile { return pr.profiles }

// HeaderValue formats the preference as a Prefer header value,
// e.g. "prism=hyper,turbo,classic".
func (pr Preference) HeaderValue() string {
	names := make([]string, len(pr.profiles))
	for i, p := range pr.profiles {
		names[i] = p.String()
	}
	return "prism=" + strings.Join(names, ",")
}

// ParsePreference parses a Prefer header value. ok is false when the value
// is absent the prism parameter or contains an unknown profile name.
func ParsePreference(value string) (Preference, bool) {
	value = strings.TrimSpace(value)
	csv, found := strings.CutPrefix(value, "prism=")
	if !found {
		return Preference{}, false
	}
	var profiles []Profile
	for _, name := range strings.Split(csv, ",") {
		p, err := ParseProfile(name)
		if err != nil {
			return Preference{}, false
		}
		profiles = append(profiles, p)
	}
	return Preference{profiles: profiles}, true
}

// Negotiate selects the first profile in client preference order that the
// server supports.
func (pr Preference) Negotiate(supported []Profile) (Profile, bool) {
	for _, p := range pr.profiles {
		for _, s := range supported {
			if p == s {
				return p, true
			}
		}
	}
	return Classic, false
}

// NegotiateProfile selects the profile for a connection from the client's
// Prefer header and the server's supported set. An absent or unparseable
// header selects the server's highest-supported profile. The function keeps
// no state: the router calls it for every request, so each request is
// negotiated from its own Prefer header rather than once per connection.
func NegotiateProfile(preferHeader string, supported []Profile) Profile {
	if preferHeader != "" {
		if pref, ok := ParsePreference(preferHeader); ok {
			if p, ok := pref.Negotiate(supported); ok {
				return p
			}
		}
	}

	best := Classic
	for _, p := range supported {
		if p > best {
			best = p
		}
	}
	return best
}
