// Package request synthesises the wire-ready request bytes a ConnectionSM
// sends in its SENDING state, from a validated Config (spec.md §4.1).
package request

import (
	"bytes"
	"fmt"

	"github.com/tidely/webbench/pkg/config"
	"github.com/tidely/webbench/pkg/constants"
	"github.com/tidely/webbench/pkg/errors"
)

// Request is the immutable output of Build: the Host-header value and the
// full wire-ready octets, bounded at constants.MaxRequestBytes.
type Request struct {
	Host  string
	Bytes []byte
}

// Build applies the version-upgrade rules to a copy of cfg (never mutating
// the caller's Config), then composes the request line and headers per
// spec.md §4.1. It fails on an unknown method or when the composed request
// exceeds constants.MaxRequestBytes.
func Build(cfg *config.Config) (*Request, error) {
	upgraded := config.ApplyVersionUpgrades(*cfg)

	method := upgraded.Method.String()
	switch upgraded.Method {
	case config.GET, config.HEAD, config.OPTIONS, config.TRACE:
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unknown method %v", upgraded.Method))
	}

	var buf bytes.Buffer

	requestURI := "/"
	if upgraded.HasProxy() {
		requestURI = upgraded.URLPathAndQuery
	}

	buf.WriteString(method)
	buf.WriteByte(' ')
	buf.WriteString(requestURI)

	switch upgraded.HTTPVersion {
	case config.HTTP09:
		buf.WriteString("\r\n")
		return finish(upgraded.TargetHost, &buf)
	case config.HTTP10:
		buf.WriteString(" HTTP/1.0\r\n")
	case config.HTTP11:
		buf.WriteString(" HTTP/1.1\r\n")
	}

	buf.WriteString("User-Agent: WebBench 2\r\n")

	if !upgraded.HasProxy() {
		fmt.Fprintf(&buf, "Host: %s:%d\r\n", upgraded.TargetHost, upgraded.TargetPort)
	}

	if upgraded.HasProxy() && upgraded.Reload {
		if upgraded.HTTPVersion == config.HTTP10 {
			buf.WriteString("Pragma: no-cache\r\n")
		} else {
			buf.WriteString("Cache-Control: no-cache\r\n")
		}
	}

	if upgraded.HTTPVersion == config.HTTP11 {
		buf.WriteString("Connection: close\r\n")
	}

	buf.WriteString("\r\n")

	return finish(upgraded.TargetHost, &buf)
}

func finish(host string, buf *bytes.Buffer) (*Request, error) {
	if buf.Len() > constants.MaxRequestBytes {
		return nil, errors.NewValidationError("synthesised request exceeds maximum request size")
	}
	return &Request{Host: host, Bytes: buf.Bytes()}, nil
}

// BuildConnect synthesises the CONNECT tunnel request used to establish an
// HTTPS-through-proxy session (spec.md §4.4, PROXY_CONNECT state).
func BuildConnect(targetHost string, targetPort int) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "CONNECT %s:%d HTTP/1.1\r\n", targetHost, targetPort)
	fmt.Fprintf(&buf, "Host: %s:%d\r\n", targetHost, targetPort)
	buf.WriteString("Connection: close\r\n\r\n")
	return buf.Bytes()
}

// ConnectEstablishedMarker is the literal substring a PROXY_RESPONSE scan
// must find in the receive buffer to consider the tunnel established
// (spec.md §4.4, §6).
const ConnectEstablishedMarker = "HTTP/1.1 200 Connection established"

// EndOfHeadersMarker is the literal substring a RECEIVING scan looks for to
// detect end-of-headers (spec.md §4.4).
const EndOfHeadersMarker = "\r\n\r\n"
