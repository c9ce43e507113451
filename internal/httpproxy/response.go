package httpproxy

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/islamwalid/goproxy/internal/bufreader"
	"github.com/islamwalid/goproxy/internal/constants"
	"github.com/islamwalid/goproxy/metrics"
)

// userAgent is the fixed upstream User-Agent, matching the original
// build_request_hdrs constants.
const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:98.0) Gecko/20100101 Firefox/98.0"

// DialTimeout bounds how long ForwardClientRequest waits to establish
// the upstream TCP connection.
var DialTimeout = 10 * time.Second

// Response is one parsed origin response: status line, header block
// (including the trailing blank line), and body.
type Response struct {
	StatusLine string
	Headers    string
	Body       []byte
}

// ForwardClientRequest dials (req.Hostname, req.Port), sends the fixed
// upstream request built from req, and parses the origin's response.
// Per spec.md §4.3, the upstream connection is always HTTP/1.0 and
// always closed after this single exchange.
func ForwardClientRequest(req *Request) (*Response, error) {
	addr := net.JoinHostPort(req.Hostname, req.Port)
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("httpproxy: dial upstream %s: %w", addr, err)
	}
	defer conn.Close()

	requestLine := fmt.Sprintf("GET %s HTTP/1.0\r\n", req.Path)

	var headers strings.Builder
	fmt.Fprintf(&headers, "User-Agent: %s\r\n", userAgent)
	headers.WriteString("Connection: close\r\n")
	headers.WriteString("Proxy-Connection: close\r\n")
	headers.WriteString(req.Headers)

	if _, err := io.WriteString(conn, requestLine); err != nil {
		return nil, fmt.Errorf("httpproxy: write upstream request line: %w", err)
	}
	if _, err := io.WriteString(conn, headers.String()); err != nil {
		return nil, fmt.Errorf("httpproxy: write upstream headers: %w", err)
	}

	return parseResponse(bufreader.New(conn))
}

func parseResponse(r *bufreader.Reader) (*Response, error) {
	statusLine, err := r.ReadLine(MaxLineBytes)
	if err != nil {
		return nil, fmt.Errorf("httpproxy: read status line: %w", err)
	}
	if len(statusLine) == 0 {
		return nil, fmt.Errorf("httpproxy: upstream closed before sending a response")
	}

	headerBlock, contentLength, err := parseResponseHeaders(r)
	if err != nil {
		return nil, err
	}

	body, err := r.ReadN(contentLength)
	if err != nil {
		return nil, fmt.Errorf("httpproxy: read response body: %w", err)
	}

	return &Response{
		StatusLine: string(statusLine),
		Headers:    headerBlock,
		Body:       body,
	}, nil
}

// parseResponseHeaders accumulates the header block verbatim, while
// scanning case-insensitively for Content-Length. Absent or invalid
// Content-Length is a failure per spec.md §4.3 step 5.
func parseResponseHeaders(r *bufreader.Reader) (headerBlock string, contentLength int, err error) {
	var sb strings.Builder
	contentLength = -1

	for {
		raw, readErr := r.ReadLine(MaxLineBytes)
		if readErr != nil {
			return "", 0, fmt.Errorf("httpproxy: read response header: %w", readErr)
		}

		line := string(raw)
		sb.WriteString(line)

		if n, ok := contentLengthValue(line); ok {
			contentLength = n
		}

		if line == "\r\n" || line == "\n" || line == "" {
			break
		}
	}

	if contentLength < 0 {
		return "", 0, fmt.Errorf("httpproxy: upstream response missing Content-Length")
	}

	return sb.String(), contentLength, nil
}

func contentLengthValue(line string) (int, bool) {
	const prefix = "content-length:"
	trimmed := strings.TrimRight(line, "\r\n")
	if len(trimmed) <= len(prefix) {
		return 0, false
	}
	if !strings.EqualFold(trimmed[:len(prefix)], prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(trimmed[len(prefix):]))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ForwardServerResponse writes status line, an injected cache-status
// header, the origin's own header block, and body (in that order) to
// the client connection w. Any write failure aborts the exchange.
// Bytes actually written before a failure still count toward
// proxy_bytes_forwarded_total, since they did reach the client socket.
func ForwardServerResponse(w io.Writer, resp *Response, cacheStatus string) error {
	var sent int

	n, err := io.WriteString(w, resp.StatusLine)
	sent += n
	if err != nil {
		metrics.BytesForwardedTotal.Add(float64(sent))
		return fmt.Errorf("httpproxy: write status line to client: %w", err)
	}

	n, err = fmt.Fprintf(w, "%s: %s\r\n", constants.CacheStatusHeader, cacheStatus)
	sent += n
	if err != nil {
		metrics.BytesForwardedTotal.Add(float64(sent))
		return fmt.Errorf("httpproxy: write cache status header to client: %w", err)
	}

	n, err = io.WriteString(w, resp.Headers)
	sent += n
	if err != nil {
		metrics.BytesForwardedTotal.Add(float64(sent))
		return fmt.Errorf("httpproxy: write headers to client: %w", err)
	}

	n, err = w.Write(resp.Body)
	sent += n
	metrics.BytesForwardedTotal.Add(float64(sent))
	if err != nil {
		return fmt.Errorf("httpproxy: write body to client: %w", err)
	}
	return nil
}
