package httpproxy_test

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/islamwalid/goproxy/internal/httpproxy"
	"github.com/islamwalid/goproxy/internal/objcache"
)

// mockOrigin serves a fixed "hello" response over TCP and counts the
// number of connections it accepted.
type mockOrigin struct {
	ln    net.Listener
	conns int32
}

func newMockOrigin(t *testing.T) *mockOrigin {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := &mockOrigin{ln: ln}
	go m.serve()
	return m
}

func (m *mockOrigin) serve() {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		atomic.AddInt32(&m.conns, 1)
		go func() {
			defer conn.Close()
			buf := make([]byte, 4096)
			_, _ = conn.Read(buf) // discard the request
			_, _ = conn.Write([]byte("HTTP/1.0 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
		}()
	}
}

func (m *mockOrigin) hostPort() (string, string) {
	addr := m.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", fmt.Sprint(addr.Port)
}

func (m *mockOrigin) close() { _ = m.ln.Close() }

// fakeClientConn is an in-memory clientConn: Read drains a fixed
// request, Write captures the response.
type fakeClientConn struct {
	in  *strings.Reader
	out strings.Builder
}

func newFakeClientConn(request string) *fakeClientConn {
	return &fakeClientConn{in: strings.NewReader(request)}
}

func (f *fakeClientConn) Read(p []byte) (int, error)  { return f.in.Read(p) }
func (f *fakeClientConn) Write(p []byte) (int, error) { return f.out.Write(p) }

func requestFor(host, port string) string {
	return fmt.Sprintf("GET http://%s:%s/ HTTP/1.0\r\nHost: %s:%s\r\n\r\n", host, port, host, port)
}

func TestCachingPipelineHitAvoidsSecondConnection(t *testing.T) {
	origin := newMockOrigin(t)
	defer origin.close()
	host, port := origin.hostPort()
	cache := objcache.New(nil)

	first := newFakeClientConn(requestFor(host, port))
	outcome := httpproxy.CachingPipeline(first, cache)
	assert.Equal(t, httpproxy.OutcomeServed, outcome)
	assert.Contains(t, first.out.String(), "hello")

	second := newFakeClientConn(requestFor(host, port))
	outcome = httpproxy.CachingPipeline(second, cache)
	assert.Equal(t, httpproxy.OutcomeCacheHit, outcome)
	assert.Contains(t, second.out.String(), "hello")

	assert.Equal(t, int32(1), atomic.LoadInt32(&origin.conns))
}

func TestCachingPipelineEvictsAfterCapacity(t *testing.T) {
	origin := newMockOrigin(t)
	defer origin.close()
	host, port := origin.hostPort()
	cache := objcache.New(nil)

	requestForPath := func(path string) string {
		return fmt.Sprintf("GET http://%s:%s%s HTTP/1.0\r\nHost: %s:%s\r\n\r\n", host, port, path, host, port)
	}

	for i := 0; i < 10; i++ {
		conn := newFakeClientConn(requestForPath(fmt.Sprintf("/item-%d", i)))
		outcome := httpproxy.CachingPipeline(conn, cache)
		assert.Equal(t, httpproxy.OutcomeServed, outcome)
	}

	refetch := newFakeClientConn(requestForPath("/item-0"))
	outcome := httpproxy.CachingPipeline(refetch, cache)
	assert.Equal(t, httpproxy.OutcomeCacheHit, outcome, "within capacity, item-0 should still be cached")
	assert.Equal(t, int32(10), atomic.LoadInt32(&origin.conns))

	eleventh := newFakeClientConn(requestForPath("/item-10"))
	outcome = httpproxy.CachingPipeline(eleventh, cache)
	assert.Equal(t, httpproxy.OutcomeServed, outcome)
	assert.Equal(t, int32(11), atomic.LoadInt32(&origin.conns))

	// item-0 was touched by the refetch above, so item-1 is now the
	// least recently used entry and the one the eleventh insert evicts.
	refetchAgain := newFakeClientConn(requestForPath("/item-1"))
	outcome = httpproxy.CachingPipeline(refetchAgain, cache)
	assert.Equal(t, httpproxy.OutcomeServed, outcome, "item-1 should have been evicted, forcing a new origin connection")
	assert.Equal(t, int32(12), atomic.LoadInt32(&origin.conns))
}

func TestCachingPipelineConcurrentWorkersShareOneEntry(t *testing.T) {
	origin := newMockOrigin(t)
	defer origin.close()
	host, port := origin.hostPort()
	cache := objcache.New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := newFakeClientConn(requestFor(host, port))
			outcome := httpproxy.CachingPipeline(conn, cache)
			assert.True(t, outcome == httpproxy.OutcomeServed || outcome == httpproxy.OutcomeCacheHit)
			assert.Contains(t, conn.out.String(), "hello")
		}()
	}
	wg.Wait()

	conns := atomic.LoadInt32(&origin.conns)
	assert.GreaterOrEqual(t, conns, int32(1))
	assert.LessOrEqual(t, conns, int32(100))
}

func TestUpstreamRequestLineAndHeaders(t *testing.T) {
	reqCh := make(chan string, 1)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		reqCh <- string(buf[:n])
		_, _ = conn.Write([]byte("HTTP/1.0 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	host, port := "127.0.0.1", fmt.Sprint(addr.Port)

	request := fmt.Sprintf("GET http://%s:%s/thing HTTP/1.1\r\nHost: %s:%s\r\nX-Custom: v\r\n\r\n", host, port, host, port)
	conn := newFakeClientConn(request)
	outcome := httpproxy.CachingPipeline(conn, objcache.New(nil))
	assert.Equal(t, httpproxy.OutcomeServed, outcome)

	upstreamRequest := <-reqCh
	assert.True(t, strings.HasPrefix(upstreamRequest, "GET /thing HTTP/1.0\r\n"))
	assert.Equal(t, 1, strings.Count(upstreamRequest, "User-Agent:"))
	assert.Equal(t, 1, strings.Count(upstreamRequest, "\r\nConnection: close"))
	assert.Equal(t, 1, strings.Count(upstreamRequest, "Proxy-Connection: close"))
	assert.Contains(t, upstreamRequest, "X-Custom: v")

	uaIdx := strings.Index(upstreamRequest, "User-Agent:")
	connIdx := strings.Index(upstreamRequest, "Connection: close")
	proxyConnIdx := strings.Index(upstreamRequest, "Proxy-Connection: close")
	clientHdrIdx := strings.Index(upstreamRequest, "X-Custom:")
	assert.True(t, uaIdx < connIdx && connIdx < proxyConnIdx && proxyConnIdx < clientHdrIdx)
}
