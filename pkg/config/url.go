package config

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/tidely/webbench/pkg/constants"
	"github.com/tidely/webbench/pkg/errors"
)

// ParseTargetURL accepts "http://HOST[:PORT]/path" and
// "https://HOST[:PORT]/path" (spec.md §6's URL parsing contract): a URL
// with an empty path gets "/" as its path (a non-empty path is kept as
// given), a missing port defaults to 80 (HTTP) or 443 (HTTPS). Schemes
// other than http/https are rejected. cmd/webbench calls this parser for
// every target URL, with or without --proxy, so such a URL is rejected
// even when a proxy is configured.
func ParseTargetURL(raw string) (host string, port int, proto Protocol, pathAndQuery string, err error) {
	if len(raw) > constants.MaxURLLength {
		return "", 0, 0, "", errors.NewValidationError("URL exceeds maximum length")
	}

	u, perr := url.Parse(raw)
	if perr != nil {
		return "", 0, 0, "", errors.NewValidationError("malformed URL: " + perr.Error())
	}

	switch u.Scheme {
	case "http":
		proto = HTTP
	case "https":
		proto = HTTPS
	default:
		return "", 0, 0, "", errors.NewValidationError("unsupported URL scheme: " + u.Scheme)
	}

	host = u.Hostname()
	if host == "" {
		return "", 0, 0, "", errors.NewValidationError("URL must include a host")
	}

	if portStr := u.Port(); portStr != "" {
		p, perr := strconv.Atoi(portStr)
		if perr != nil || p < 1 || p > constants.MaxPort {
			return "", 0, 0, "", errors.NewValidationError("invalid URL port: " + portStr)
		}
		port = p
	} else if proto == HTTPS {
		port = 443
	} else {
		port = 80
	}

	if u.Path == "" {
		u.Path = "/"
	}

	pathAndQuery = normalizedURL(u, raw)
	return host, port, proto, pathAndQuery, nil
}

// normalizedURL rebuilds the original URL string, appending "/" when the URL
// has no path and preserving a non-empty path and the query string
// verbatim, since spec.md §4.1 uses the
// absolute-form request-URI "as originally supplied" when a proxy is
// configured.
func normalizedURL(u *url.URL, raw string) string {
	if !strings.Contains(raw, "?") && u.Path == "/" && !strings.HasSuffix(raw, "/") {
		return raw + "/"
	}
	out := u.Scheme + "://" + u.Host + u.EscapedPath()
	if out == u.Scheme+"://"+u.Host {
		out += "/"
	}
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

// ParseProxyString parses the "-p"/"--proxy" flag value, format "H:P"
// (spec.md §6): an empty host defaults to 127.0.0.1, an empty or missing
// port defaults to 80, a malformed port is an error. Grounded on
// go-rawhttp's ParseProxyURL (net/url-based validation idiom) adapted to
// this simpler bare host:port grammar (no scheme, no credentials).
func ParseProxyString(raw string) (host string, port int, err error) {
	if raw == "" {
		return constants.DefaultProxyHost, constants.DefaultProxyPort, nil
	}

	idx := strings.LastIndex(raw, ":")
	if idx < 0 {
		host = raw
		port = constants.DefaultProxyPort
	} else {
		host = raw[:idx]
		portStr := raw[idx+1:]
		if portStr == "" {
			port = constants.DefaultProxyPort
		} else {
			p, perr := strconv.Atoi(portStr)
			if perr != nil || p < 1 || p > constants.MaxPort {
				return "", 0, errors.NewValidationError("invalid proxy port: " + portStr)
			}
			port = p
		}
	}

	if host == "" {
		host = constants.DefaultProxyHost
	}

	return host, port, nil
}
