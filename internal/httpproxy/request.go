// Package httpproxy implements the proxy's HTTP parsing and forwarding
// pipeline: turning an arbitrary client request into a compliant
// upstream request and parsing the origin's response back.
//
// Grounded on _examples/original_source/src/proxy_serve/serve.c for
// wire semantics; the URL parser is rewritten against net/url rather
// than the original's destructive strtok tokenization, per spec.md §9.
package httpproxy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/islamwalid/goproxy/internal/bufreader"
	proxyerrors "github.com/islamwalid/goproxy/internal/errors"
	"github.com/islamwalid/goproxy/internal/log"
)

const (
	// MaxLineBytes bounds a single request/status line or header line.
	MaxLineBytes = 8192
	// MaxHeaderBlockBytes bounds the accumulated header block.
	MaxHeaderBlockBytes = 1 << 20

	defaultPort = "80"
	defaultPath = "/"
)

// Request is one parsed client request, ready to be forwarded upstream.
type Request struct {
	Method   string
	Hostname string
	Port     string
	Path     string
	// Headers is the CRLF-terminated header block copied verbatim from
	// the client, including the terminating blank line. The client's
	// Host line is kept in it as-is (the proxy does not rewrite it —
	// spec.md's Non-goals only require the upstream request line itself
	// to be rebuilt).
	Headers string

	// RequestLine is the client's original request line, used (together
	// with Headers) as the cache fingerprint input.
	RequestLine string
}

// ParseRequest reads one HTTP request line and header block from r. On
// a client protocol error (malformed request line, unsupported method,
// unsupported version), it writes a self-contained HTML error page to
// w and returns the error — the caller should simply close the
// connection in that case, without forwarding anything further.
func ParseRequest(r *bufreader.Reader, w errorWriter) (*Request, error) {
	requestLine, method, rawURL, version, err := parseRequestLine(r)
	if err != nil {
		if protoErr, ok := err.(*proxyerrors.ProtocolError); ok {
			protoErr = protoErr.WithCause(fmt.Errorf("malformed request line %q", requestLine))
			log.L().Debugw("client protocol error", "error", protoErr, "cause", protoErr.Unwrap())
			writeError(w, protoErr, requestLine)
			return nil, protoErr
		}
		return nil, err
	}

	if method != "GET" {
		protoErr := proxyerrors.ErrNotImplemented.WithCause(fmt.Errorf("unsupported method %q", method))
		log.L().Debugw("client protocol error", "error", protoErr, "cause", protoErr.Unwrap())
		writeError(w, protoErr, method)
		return nil, protoErr
	}
	if version != "HTTP/1.0" && version != "HTTP/1.1" {
		protoErr := proxyerrors.ErrVersionNotSupported.WithCause(fmt.Errorf("unsupported version %q", version))
		log.L().Debugw("client protocol error", "error", protoErr, "cause", protoErr.Unwrap())
		writeError(w, protoErr, method)
		return nil, protoErr
	}

	headerBlock, hostHeader, err := readHeaderBlock(r)
	if err != nil {
		return nil, err
	}

	hostname, port, path := ParseURL(rawURL, hostHeader)

	return &Request{
		Method:      method,
		Hostname:    hostname,
		Port:        port,
		Path:        path,
		Headers:     headerBlock,
		RequestLine: requestLine,
	}, nil
}

// errorWriter is the minimal surface ParseRequest needs to report a
// protocol error back to the client.
type errorWriter interface {
	Write(p []byte) (int, error)
}

func parseRequestLine(r *bufreader.Reader) (line, method, rawURL, version string, err error) {
	raw, readErr := r.ReadLine(MaxLineBytes)
	if readErr != nil {
		return "", "", "", "", readErr
	}

	fields := strings.Fields(string(raw))
	if len(fields) != 3 {
		return string(raw), "", "", "", proxyerrors.ErrBadRequest
	}

	return string(raw), fields[0], fields[1], fields[2], nil
}

func readHeaderBlock(r *bufreader.Reader) (headerBlock, hostHeader string, err error) {
	var sb strings.Builder
	budget := MaxHeaderBlockBytes

	for {
		raw, readErr := r.ReadLine(MaxLineBytes)
		if readErr != nil {
			return "", "", readErr
		}

		line := string(raw)
		if value, ok := hostHeaderValue(line); ok {
			hostHeader = value
		}

		if budget > 0 {
			n := len(line)
			if n > budget {
				n = budget
			}
			sb.WriteString(line[:n])
			budget -= n
		}

		if line == "\r\n" || line == "\n" || line == "" {
			break
		}
	}

	return sb.String(), hostHeader, nil
}

// hostHeaderValue extracts the value of a "Host:" header line, case-
// insensitively on the header name, matching the original's sscanf
// capture of the Host header while accumulating.
func hostHeaderValue(line string) (string, bool) {
	const prefix = "host:"
	trimmed := strings.TrimRight(line, "\r\n")
	if len(trimmed) <= len(prefix) {
		return "", false
	}
	if !strings.EqualFold(trimmed[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(trimmed[len(prefix):]), true
}

// ParseURL extracts hostname, port, and path from a request-line URL
// of the form "http://HOST[:PORT][/PATH][?QUERY]". A URL-carried host
// takes precedence over hostHeader, per spec.md §9's "URL authority
// wins when present, else Host header" rule. Defaults: port 80, path
// "/". Unlike the original's strtok-based parser, this handles
// multi-segment paths and query strings, since net/url already solves
// that correctly and nothing in spec.md forbids using it.
func ParseURL(rawURL, hostHeader string) (hostname, port, path string) {
	stripped := rawURL
	if idx := strings.Index(stripped, "://"); idx >= 0 {
		stripped = stripped[idx+3:]
	}

	// Reattach a scheme so net/url treats what follows as an authority,
	// even for the origin-form URLs a non-proxy-style client might send.
	parsed, err := url.Parse("http://" + stripped)
	if err != nil || parsed.Host == "" {
		// Fall back entirely to the Host header; rawURL is just a path.
		hostname, port = splitHostPort(hostHeader)
		path = rawURL
		if path == "" {
			path = defaultPath
		}
		return hostname, port, path
	}

	hostname, port = splitHostPort(parsed.Host)
	if hostname == "" {
		hostname, port = splitHostPort(hostHeader)
	}

	path = parsed.Path
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	if path == "" {
		path = defaultPath
	}

	return hostname, port, path
}

func splitHostPort(hostport string) (host, port string) {
	if hostport == "" {
		return "", defaultPort
	}
	if idx := strings.LastIndexByte(hostport, ':'); idx >= 0 {
		return hostport[:idx], hostport[idx+1:]
	}
	return hostport, defaultPort
}
