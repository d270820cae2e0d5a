/*
MIT License

Copyright (c) 2020 Nicolas JUHEL

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

// Command fibp-gateway is the FIBP service entrypoint: it loads the
// deployment config, stands up the reactor pool, the discovery watcher,
// the forward manager, the log sink, the port-forward manager, and the
// three front-end listeners, then runs until signalled.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nabbar/fibp/internal/config"
	"github.com/nabbar/fibp/internal/discovery"
	"github.com/nabbar/fibp/internal/forward"
	"github.com/nabbar/fibp/internal/gateway"
	"github.com/nabbar/fibp/internal/logsink"
	"github.com/nabbar/fibp/internal/obslog"
	"github.com/nabbar/fibp/internal/portforward"
	"github.com/nabbar/fibp/internal/server"
)

var (
	flagConfigDir    string
	flagLogPrefix    string
	flagPidFile      string
	flagReportAddr   string
	flagRegistryAddr []string
	flagVerbose      bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		obslog.Fatalf("%v", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fibp-gateway",
		Short: "FIBP multi-protocol service gateway",
		RunE:  runGateway,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&flagConfigDir, "config-dir", "", "directory holding the gateway's config file (required)")
	flags.StringVar(&flagLogPrefix, "log-prefix", "fibp", "log line prefix")
	flags.StringVar(&flagPidFile, "pid-file", "", "PID file path (records the PID only; reload/stale-PID handling is out of scope)")
	flags.StringVar(&flagReportAddr, "report-addr", "", "static metrics sink address, overrides cluster discovery")
	flags.StringSliceVar(&flagRegistryAddr, "registry-addr", nil, "registry cluster addresses (required)")
	flags.BoolVar(&flagVerbose, "verbose", false, "enable debug logging")

	_ = cmd.MarkPersistentFlagRequired("config-dir")
	_ = cmd.MarkPersistentFlagRequired("registry-addr")

	return cmd
}

func runGateway(cmd *cobra.Command, _ []string) error {
	level := obslog.InfoLevel
	if flagVerbose {
		level = obslog.DebugLevel
	}
	obslog.Init(level, flagLogPrefix, os.Stderr)

	cfg, err := config.Load(flagConfigDir + "/fibp-gateway.yaml")
	if err != nil {
		return err
	}

	writePidFile(flagPidFile)

	routing := gateway.NewRoutingTable()
	cache := forward.NewServiceCache(forward.DefaultCacheCapacity)
	sink := logsink.NewSink(logsink.DefaultRingSize, flagReportAddr)

	// One PoolSet (Pool + client.Manager + Forward Manager) per reactor
	// thread, per spec.md §4.3's per-thread object registry; incoming
	// connections are assigned a slot round-robin.
	pools := server.NewPoolRegistry(cfg.ReactorThreads(), routing, cache, sink)
	defer pools.Stop(context.Background())

	pf := portforward.NewManager(routing)
	watcher := discovery.NewWatcher(flagRegistryAddr, routing, pf)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop(ctx)

	if flagReportAddr == "" {
		if addr, ok := logsink.ResolveMetricsAddr(routing, watcher.ClusterName()); ok {
			sink.SetMetricsAddr(addr)
		}
	}
	go sink.Run(ctx)
	defer sink.Stop()

	driverAddr := net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.DriverPort()))
	httpAddr := net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.HTTPPort()))
	rpcAddr := net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.RPCPort()))

	driver := server.NewDriverFront(driverAddr, pools)
	httpFront := server.NewHTTPFront(httpAddr, pools)
	rpcFront := server.NewRPCFront(rpcAddr, pools)

	errCh := make(chan error, 3)
	go func() { errCh <- driver.Serve(ctx) }()
	go func() { errCh <- httpFront.Serve(ctx) }()
	go func() { errCh <- rpcFront.Serve(ctx) }()

	obslog.InfoLevel.Logf("fibp-gateway listening: driver=%s http=%s rpc=%s", driverAddr, httpAddr, rpcAddr)

	select {
	case <-ctx.Done():
		return nil
	case err = <-errCh:
		stop()
		return err
	}
}

// writePidFile only records the current PID; reload-on-signal and
// stale-PID detection are out of scope.
func writePidFile(path string) {
	if path == "" {
		return
	}
	_ = os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
