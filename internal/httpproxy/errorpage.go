package httpproxy

import (
	"fmt"
	"strconv"
	"strings"

	proxyerrors "github.com/islamwalid/goproxy/internal/errors"
)

// writeError sends a small self-contained HTML error page for a client
// protocol error, per spec.md §4.3. cause is the offending input
// (request line or method) echoed into the body, matching the
// original's client_error(cause, ...).
func writeError(w errorWriter, e *proxyerrors.ProtocolError, cause string) {
	var body strings.Builder
	body.WriteString("<html><title>Proxy Error</title><body bgcolor=\"ffffff\">\r\n")
	fmt.Fprintf(&body, "%d: %s\r\n", e.Status, e.Title)
	fmt.Fprintf(&body, "%s: %s\r\n", e.Message, strings.TrimRight(cause, "\r\n"))

	var head strings.Builder
	fmt.Fprintf(&head, "HTTP/1.0 %d %s\r\n", e.Status, e.Title)
	head.WriteString("Content-Type: text/html\r\n")
	fmt.Fprintf(&head, "Content-Length: %s\r\n\r\n", strconv.Itoa(body.Len()))

	_, _ = w.Write([]byte(head.String()))
	_, _ = w.Write([]byte(body.String()))
}
