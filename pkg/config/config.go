// Package config holds the immutable, validated run parameters for one
// benchmark run (spec.md §3, Config).
package config

import (
	"github.com/tidely/webbench/pkg/constants"
	"github.com/tidely/webbench/pkg/errors"
)

// Protocol is the origin scheme.
type Protocol int

const (
	HTTP Protocol = iota
	HTTPS
)

func (p Protocol) String() string {
	if p == HTTPS {
		return "https"
	}
	return "http"
}

// Method is one of the four request methods this engine supports
// (spec.md §1 non-goal: only GET, HEAD, OPTIONS, TRACE).
type Method int

const (
	GET Method = iota
	HEAD
	OPTIONS
	TRACE
)

func (m Method) String() string {
	switch m {
	case HEAD:
		return "HEAD"
	case OPTIONS:
		return "OPTIONS"
	case TRACE:
		return "TRACE"
	default:
		return "GET"
	}
}

// HTTPVersion is the request's protocol version.
type HTTPVersion int

const (
	HTTP09 HTTPVersion = iota
	HTTP10
	HTTP11
)

// Config is the immutable, validated set of parameters driving one run.
// Callers build a Config literal and call Validate; ApplyVersionUpgrades
// (spec.md §4.1) is applied separately by pkg/request so that the
// Config a caller builds and the Config a RequestBuilder consumes can be
// compared for the idempotence property in spec.md §8.
type Config struct {
	TargetHost string
	TargetPort int
	Protocol   Protocol

	ProxyHost string // empty string means "no proxy"
	ProxyPort int

	Method      Method
	HTTPVersion HTTPVersion

	// URLPathAndQuery is the full URL as originally supplied, used verbatim
	// as request-URI when a proxy is configured (spec.md §3).
	URLPathAndQuery string

	Clients  int
	Duration int // seconds

	Force  bool
	Reload bool

	// Verbose enables per-cycle diagnostic logging (ambient addition,
	// SPEC_FULL.md §3.2); not part of the core contract.
	Verbose bool
}

// HasProxy reports whether a forward proxy or CONNECT tunnel is configured.
func (c *Config) HasProxy() bool {
	return c.ProxyHost != ""
}

// UsesProxyTunnel reports whether the proxy must be treated as an opaque
// TCP CONNECT tunnel (spec.md §3 invariant: HTTPS through a proxy tunnels).
func (c *Config) UsesProxyTunnel() bool {
	return c.HasProxy() && c.Protocol == HTTPS
}

// DialHost and DialPort return the address the SocketFactory should connect
// to: the proxy when one is configured, the origin otherwise.
func (c *Config) DialHost() string {
	if c.HasProxy() {
		return c.ProxyHost
	}
	return c.TargetHost
}

func (c *Config) DialPort() int {
	if c.HasProxy() {
		return c.ProxyPort
	}
	return c.TargetPort
}

// Validate enforces the invariants spec.md §3 and §6 require: a target
// host, ports in range, positive clients and duration, and the URL length
// limit. Clients above MaxConnections is clamped rather than rejected.
// Called once by cmd/webbench after flags are parsed.
func (c *Config) Validate() error {
	if c.TargetHost == "" {
		return errors.NewValidationError("target host is required")
	}
	if c.TargetPort < 1 || c.TargetPort > constants.MaxPort {
		return errors.NewValidationError("target port out of range")
	}
	if c.HasProxy() {
		if c.ProxyPort < 1 || c.ProxyPort > constants.MaxPort {
			return errors.NewValidationError("proxy port out of range")
		}
	}
	if c.Clients < 1 {
		return errors.NewValidationError("clients must be positive")
	}
	if c.Clients > constants.MaxConnections {
		c.Clients = constants.MaxConnections
	}
	if c.Duration < 1 {
		return errors.NewValidationError("duration must be positive")
	}
	if len(c.URLPathAndQuery) > constants.MaxURLLength {
		return errors.NewValidationError("URL exceeds maximum length")
	}
	return nil
}
