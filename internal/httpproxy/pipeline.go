package httpproxy

import (
	"errors"
	"io"
	"time"

	"github.com/islamwalid/goproxy/internal/bufreader"
	"github.com/islamwalid/goproxy/internal/constants"
	proxyerrors "github.com/islamwalid/goproxy/internal/errors"
	"github.com/islamwalid/goproxy/internal/objcache"
	"github.com/islamwalid/goproxy/metrics"
)

// clientConn is the surface the pipeline needs from the client
// connection: a reader for the request and a writer for the response.
type clientConn interface {
	io.Reader
	io.Writer
}

// Outcome classifies how one exchange ended, for metrics.
type Outcome int

const (
	OutcomeServed Outcome = iota
	OutcomeCacheHit
	OutcomeBadRequest
	OutcomeNotImplemented
	OutcomeVersionNotSupported
	OutcomeUpstreamError
)

// Pipeline runs one client exchange with no caching: parse, forward,
// write back. This is the uncached variant spec.md §4.3 notes the
// source also carries.
func Pipeline(conn clientConn) Outcome {
	req, outcome, ok := parseOrReport(conn)
	if !ok {
		return outcome
	}

	resp, err := forwardAndTimeUpstream(req)
	if err != nil {
		return OutcomeUpstreamError
	}

	if err := ForwardServerResponse(conn, resp, constants.CacheStatusMiss); err != nil {
		return OutcomeUpstreamError
	}

	return OutcomeServed
}

// CachingPipeline runs one client exchange against the shared cache:
// on a fingerprint hit, the cached response is served with no upstream
// connection; on a miss, the response is fetched and then inserted.
// This is spec.md §4.3's canonical design.
func CachingPipeline(conn clientConn, cache *objcache.Cache) Outcome {
	req, outcome, ok := parseOrReport(conn)
	if !ok {
		return outcome
	}

	if entry, hit := cache.Fetch(req.RequestLine, req.Headers); hit {
		resp := &Response{
			StatusLine: entry.StatusLine,
			Headers:    entry.Headers,
			Body:       entry.Body,
		}
		if err := ForwardServerResponse(conn, resp, constants.CacheStatusHit); err != nil {
			return OutcomeUpstreamError
		}
		return OutcomeCacheHit
	}

	resp, err := forwardAndTimeUpstream(req)
	if err != nil {
		return OutcomeUpstreamError
	}

	cache.Insert(req.RequestLine, req.Headers, objcache.Entry{
		StatusLine: resp.StatusLine,
		Headers:    resp.Headers,
		Body:       resp.Body,
	})

	if err := ForwardServerResponse(conn, resp, constants.CacheStatusMiss); err != nil {
		return OutcomeUpstreamError
	}

	return OutcomeServed
}

// forwardAndTimeUpstream fetches from the origin and observes the
// fetch's wall-clock latency against proxy_upstream_duration_seconds,
// whether or not the fetch ultimately succeeds.
func forwardAndTimeUpstream(req *Request) (*Response, error) {
	start := time.Now()
	resp, err := ForwardClientRequest(req)
	metrics.UpstreamDuration.Observe(time.Since(start).Seconds())
	return resp, err
}

func parseOrReport(conn clientConn) (*Request, Outcome, bool) {
	req, err := ParseRequest(bufreader.New(conn), conn)
	if err == nil {
		return req, OutcomeServed, true
	}
	return nil, outcomeFor(err), false
}

// outcomeFor classifies a ParseRequest error for metrics purposes. Any
// error that isn't one of the three named protocol errors is treated
// as an I/O failure on the client connection. errors.Is is used rather
// than a direct identity switch because ParseRequest reports a causal
// copy of the shared sentinel (see ProtocolError.WithCause), not the
// sentinel value itself.
func outcomeFor(err error) Outcome {
	switch {
	case errors.Is(err, proxyerrors.ErrBadRequest):
		return OutcomeBadRequest
	case errors.Is(err, proxyerrors.ErrNotImplemented):
		return OutcomeNotImplemented
	case errors.Is(err, proxyerrors.ErrVersionNotSupported):
		return OutcomeVersionNotSupported
	default:
		return OutcomeUpstreamError
	}
}
