// Command routerd runs one node of the service-dispatch ring: it opens a
// libp2p host, mounts the advertise/discover HTTP surface on top of it, and
// drives the periodic maintenance scanners described in spec §4.6/§5.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	glog "github.com/omgolab/go-commons/pkg/log"

	"github.com/omgolab/bahnrouter/advertise"
	"github.com/omgolab/bahnrouter/circuit"
	"github.com/omgolab/bahnrouter/config"
	"github.com/omgolab/bahnrouter/dispatch"
	"github.com/omgolab/bahnrouter/peerstate"
	"github.com/omgolab/bahnrouter/ratelimit"
	"github.com/omgolab/bahnrouter/ring"
	"github.com/omgolab/bahnrouter/scanner"
	"github.com/omgolab/bahnrouter/stats"
	"github.com/omgolab/bahnrouter/transport"
)

func main() {
	logger, err := glog.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p2pHost, err := transport.CreateLibp2pHost(ctx, transport.WithHostLogger(logger))
	if err != nil {
		logger.Fatal("failed to create libp2p host", err)
	}

	remote := config.NewRemote()
	member := transport.NewDHTMembership(p2pHost)
	ringView := ring.New(logger, member, remote)

	registry := prometheus.NewRegistry()
	sink := stats.NewPrometheusSink(registry)

	limiter := ratelimit.New(remote, config.DefaultRateLimitPeriod, config.DefaultNumBuckets)
	circuits := circuit.New(circuit.DefaultParams(), ringView.IsExitFor, func(c *circuit.Circuit, from, to circuit.State) {
		sink.CircuitStateChange(c, from, to)
	})
	peers := peerstate.New()
	conn := transport.NewPeerConnector(p2pHost, logger)

	d := dispatch.New(logger, ringView, remote, limiter, circuits, peers, conn, sink)
	ringView.OnChanged(func() {
		go d.UpdateServiceChannels(ctx)
	})

	adHandler := advertise.New(logger, d, ringView, conn, conn)

	mux := adHandler.Mux()
	mux.Handle("/debug/", dispatch.NewDebugHandler(d))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := transport.NewServer(ctx, p2pHost, logger, mux)

	scanners := startScanners(ctx, logger, d, peers, conn, remote)

	logger.Info("router started", glog.LogFields{
		"peerID": p2pHost.ID().String(),
		"addrs":  p2pHost.Addrs(),
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down router")

	for _, s := range scanners {
		s.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.DefaultDrainTimeout)
	defer shutdownCancel()

	if err := d.Close(shutdownCtx); err != nil {
		logger.Error("error draining dispatcher", err)
	}
	if err := srv.Close(shutdownCtx); err != nil {
		logger.Error("error closing transport host", err)
	}

	logger.Info("router stopped")
}

// startScanners wires the periodic peer-pruning and peer-reaping tasks from
// §5 onto the scanner.Scanner abstraction, since both are keyed off an
// index rotation (RotatePrune/RotateReap) that fits its getCollection/each
// shape directly. Service-channel purging and stats emission don't
// enumerate a per-tick collection from an external index, so they run as
// plain ticker loops instead (runServicePurgeLoop, runStatsEmitLoop).
func startScanners(ctx context.Context, log glog.Logger, d *dispatch.Dispatcher, peers *peerstate.Index, conn dispatch.Connector, remote *config.Remote) []*scanner.Scanner {
	pruneScanner := scanner.New("peer-prune", log, config.DefaultPeerPrunePeriod, func() scanner.Collection {
		pruned := peers.RotatePrune()
		out := make(scanner.Collection, 0, len(pruned))
		for hp, entry := range pruned {
			out = append(out, scanner.Entry{Key: hp, Value: entry})
		}
		return out
	}, func(key string, value any, now time.Time) {
		if err := conn.Drain(ctx, key, dispatch.GoalCloseDrained, dispatch.DirectionOutbound, config.DefaultDrainTimeout); err != nil {
			log.Warn("peer prune drain failed", glog.LogFields{"peer": key, "error": err.Error()})
		}
	})
	pruneScanner.Start(ctx)

	reapScanner := scanner.New("peer-reap", log, remote.PeerReaperPeriod(), func() scanner.Collection {
		dead := peers.RotateReap()
		out := make(scanner.Collection, 0, len(dead))
		for _, dp := range dead {
			out = append(out, scanner.Entry{Key: dp.HostPort, Value: dp.Service})
		}
		return out
	}, func(key string, value any, now time.Time) {
		service, _ := value.(string)
		if err := d.RemovePeerFromService(ctx, service, key); err != nil {
			log.Warn("peer reap removal failed", glog.LogFields{"peer": key, "service": service, "error": err.Error()})
		}
	})
	reapScanner.Start(ctx)

	go runServicePurgeLoop(ctx, d)
	go runStatsEmitLoop(ctx, d)
	go runRemoteBlockSyncLoop(ctx, remote, d)

	return []*scanner.Scanner{pruneScanner, reapScanner}
}

// runRemoteBlockSyncLoop pushes the remote-config kill-switch edge list
// into the dispatcher's remote block table on a timer: Admit's step 4
// block check (§4.2) reads Blocker, not Remote directly, so a poll tick
// that only called remote.ApplySnapshot would otherwise leave the
// remote-config block list unreachable.
func runRemoteBlockSyncLoop(ctx context.Context, remote *config.Remote, d *dispatch.Dispatcher) {
	ticker := time.NewTicker(config.DefaultRemoteBlockSyncPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Blocker().SetRemoteBlocks(remote.KillSwitchEdges())
		}
	}
}

// runServicePurgeLoop drives Dispatcher.PurgeStaleServices on its own
// ticker: unlike the peer scanners, purging doesn't enumerate a discrete
// per-tick collection from an external index, so it doesn't fit the
// scanner.Scanner getCollection/each shape cleanly.
func runServicePurgeLoop(ctx context.Context, d *dispatch.Dispatcher) {
	ticker := time.NewTicker(config.DefaultServicePurgePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.PurgeStaleServices(ctx, config.DefaultServicePurgePeriod)
		}
	}
}

func runStatsEmitLoop(ctx context.Context, d *dispatch.Dispatcher) {
	ticker := time.NewTicker(config.DefaultStatEmitPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.EmitStats(now)
		}
	}
}
