// Command proxy runs the caching HTTP forward proxy described in
// spec.md. It is the trimmed, single-binary analog of the donor's
// main.go: flag/arg parsing, init-time logger and metrics bring-up,
// and errgroup-coordinated server start, minus config.Scan, plugins,
// and kratos.App (none of which this system has, per spec.md's
// Non-goals and SPEC_FULL.md §2.6).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudflare/tableflip"
	"golang.org/x/sync/errgroup"

	"github.com/islamwalid/goproxy/internal/constants"
	"github.com/islamwalid/goproxy/internal/dispatcher"
	"github.com/islamwalid/goproxy/internal/log"
	"github.com/islamwalid/goproxy/internal/metricsserver"
	"github.com/islamwalid/goproxy/internal/objcache"
	"github.com/islamwalid/goproxy/metrics"
)

const upgradeTimeout = 30 * time.Second

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <port>\n", os.Args[0])
		os.Exit(1)
	}
	port := os.Args[1]

	logger := log.With("app", constants.AppName, "pid", os.Getpid())
	defer log.Sync()

	flip, err := tableflip.New(tableflip.Options{
		PIDFile:        constants.AppName + ".pid",
		UpgradeTimeout: upgradeTimeout,
	})
	if err != nil {
		logger.Fatalw("failed to initialize graceful-upgrade listener", "error", err)
	}
	defer flip.Stop()

	go handleUpgradeSignal(flip, logger)

	proxyLn, err := flip.Listen("tcp", net.JoinHostPort("", port))
	if err != nil {
		logger.Fatalw("failed to bind proxy listener", "error", err)
	}

	cache := objcache.New(func() { metrics.CacheEvictionsTotal.Inc() })
	d := dispatcher.New(proxyLn, cache, logger)
	metricsSrv := metricsserver.New()

	if err := flip.Ready(); err != nil {
		logger.Fatalw("failed to signal readiness to tableflip", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-flip.Exit()
		stop()
	}()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return d.Serve()
	})
	group.Go(func() error {
		return metricsSrv.Start(ctx)
	})
	group.Go(func() error {
		<-ctx.Done()
		return d.Close()
	})

	logger.Infow("proxy listening", "port", port, "metrics_addr", metricsserver.Addr)

	if err := group.Wait(); err != nil {
		logger.Errorw("server exited with error", "error", err)
	}
}

// handleUpgradeSignal blocks on tableflip's upgrade channel, triggered
// by SIGHUP, so a new binary can take over the listening sockets
// without dropping connections.
func handleUpgradeSignal(flip *tableflip.Upgrader, logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}) {
	upgradeCh := make(chan os.Signal, 1)
	signal.Notify(upgradeCh, syscall.SIGHUP)
	for range upgradeCh {
		logger.Infow("received SIGHUP, upgrading")
		if err := flip.Upgrade(); err != nil {
			logger.Errorw("upgrade failed", "error", err)
		}
	}
}
