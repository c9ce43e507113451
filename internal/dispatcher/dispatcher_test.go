package dispatcher_test

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/islamwalid/goproxy/internal/dispatcher"
	"github.com/islamwalid/goproxy/internal/objcache"
)

func newMockOrigin(t *testing.T) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				_, _ = conn.Read(buf)
				_, _ = conn.Write([]byte("HTTP/1.0 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
			}()
		}
	}()
	return ln
}

func TestDispatcherServesClientThroughRealSockets(t *testing.T) {
	origin := newMockOrigin(t)
	defer origin.Close()
	originAddr := origin.Addr().(*net.TCPAddr)

	proxyLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cache := objcache.New(nil)
	d := dispatcher.New(proxyLn, cache, zap.NewNop().Sugar())
	go func() { _ = d.Serve() }()
	defer d.Close()

	client, err := net.Dial("tcp", proxyLn.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	request := fmt.Sprintf("GET http://127.0.0.1:%d/ HTTP/1.0\r\nHost: 127.0.0.1:%d\r\n\r\n",
		originAddr.Port, originAddr.Port)
	_, err = client.Write([]byte(request))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "200")
}
