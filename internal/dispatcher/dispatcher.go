// Package dispatcher accepts TCP connections and schedules an
// independent worker per connection, sharing one object cache across
// all of them, per spec.md §4.4.
package dispatcher

import (
	"errors"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/islamwalid/goproxy/internal/httpproxy"
	"github.com/islamwalid/goproxy/internal/objcache"
	"github.com/islamwalid/goproxy/metrics"
)

// Dispatcher runs the accept loop described in spec.md §4.4: single-
// threaded accept, one goroutine per connection, no coordination
// between workers beyond the shared cache.
type Dispatcher struct {
	listener net.Listener
	cache    *objcache.Cache
	logger   *zap.SugaredLogger
}

// New builds a Dispatcher over the given listener and shared cache.
func New(listener net.Listener, cache *objcache.Cache, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{listener: listener, cache: cache, logger: logger}
}

// Serve runs the accept loop until the listener is closed. A
// transient accept error is logged and the loop continues; once the
// listener is closed, Serve returns nil so the caller's errgroup can
// unwind cleanly, per spec.md §4.4 and §5 ("the dispatcher is
// single-threaded; it must not block on a worker").
func (d *Dispatcher) Serve() error {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.logger.Warnw("accept failed, continuing", "error", err)
			continue
		}

		metrics.ConnectionsTotal.Inc()
		go d.handle(conn)
	}
}

// Close stops the accept loop by closing the underlying listener.
func (d *Dispatcher) Close() error {
	return d.listener.Close()
}

// handle owns conn for its entire lifetime: run the cached pipeline,
// then close. Per spec.md §5, a worker runs to completion or until a
// socket errors; the dispatcher never cancels it.
func (d *Dispatcher) handle(conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	log := d.logger.With("conn_id", connID, "remote_addr", conn.RemoteAddr().String())

	outcome := httpproxy.CachingPipeline(conn, d.cache)

	name, cacheResult := outcomeLabel(outcome)
	metrics.RecordRequest(name)
	if cacheResult != "" {
		metrics.CacheLookupsTotal.WithLabelValues(cacheResult).Inc()
	}

	log.Debugw("exchange finished", "outcome", name)
}

func outcomeLabel(o httpproxy.Outcome) (name, cacheResult string) {
	switch o {
	case httpproxy.OutcomeServed:
		return "served", "miss"
	case httpproxy.OutcomeCacheHit:
		return "served", "hit"
	case httpproxy.OutcomeBadRequest:
		return "bad_request", ""
	case httpproxy.OutcomeNotImplemented:
		return "not_implemented", ""
	case httpproxy.OutcomeVersionNotSupported:
		return "version_not_supported", ""
	default:
		return "upstream_error", ""
	}
}
