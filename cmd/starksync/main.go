package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ledgerwatch/starksync/chainimport"
	"github.com/ledgerwatch/starksync/classpipeline"
	"github.com/ledgerwatch/starksync/common"
	"github.com/ledgerwatch/starksync/cpupool"
	"github.com/ledgerwatch/starksync/feeder"
	"github.com/ledgerwatch/starksync/felt"
	"github.com/ledgerwatch/starksync/kv"
	"github.com/ledgerwatch/starksync/log"
	"github.com/ledgerwatch/starksync/metrics"
	"github.com/ledgerwatch/starksync/model"
	"github.com/ledgerwatch/starksync/sync"
	"github.com/ledgerwatch/starksync/trie"
)

var logger = log.New("starksync")

// unconfiguredBackend reports a clear error for any class compiled
// before a real Cairo toolchain is wired in. Compilation itself is an
// external collaborator this core only caches in front of
// (classpipeline.Backend's doc comment); a node running with declared
// classes in its chain needs one supplied, which is deployment-specific
// and therefore not constructed here.
type unconfiguredBackend struct{}

func (unconfiguredBackend) CompileToCasm([]byte) (felt.Felt, []byte, error) {
	return felt.Felt{}, nil, errors.New("starksync: no class compilation backend configured")
}

func (unconfiguredBackend) ComputeClassHash(_ model.ClassType, _ []byte) (felt.Felt, error) {
	return felt.Felt{}, errors.New("starksync: no class compilation backend configured")
}

func main() {
	rootCmd.RunE = run
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	db, err := openDatabase()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if syncDisabled {
		logger.Info("sync_disabled set, serving existing data only")
		<-ctx.Done()
		return nil
	}

	reg := prometheus.NewRegistry()
	syncMetrics := metrics.NewSync(reg)
	serveMetrics(reg)

	head, err := sync.LoadChainHead(db)
	if err != nil {
		return fmt.Errorf("loading chain head: %w", err)
	}

	// contractsTrie holds one leaf per contract address; NewForwardSync
	// opens the sibling class tree itself (chainimport's ApplyToGlobalTrie,
	// driven by feeder.ApplyStateSteps, combines both into the final global
	// root).
	contractsTrie, err := trie.New("global", db, trie.Pedersen)
	if err != nil {
		return fmt.Errorf("opening contract-state trie: %w", err)
	}

	compiler, err := classpipeline.New(unconfiguredBackend{}, classpipeline.Config{
		ClassHashCacheSize: classHashCache,
		CompiledCacheBytes: compiledCacheMB * 1024 * 1024,
	})
	if err != nil {
		return fmt.Errorf("constructing class compiler: %w", err)
	}

	pool := cpupool.New(int64(defaultCPUSlots()))
	importer := chainimport.New(
		db,
		chainimport.Config{},
		pool,
		common.ChainID(chainID).ToFelt(),
		chainimport.NewDBHeaderStore(db),
		compiler,
	)

	var clientOpts []feeder.HTTPClientOption
	if gatewayKey != "" {
		clientOpts = append(clientOpts, feeder.WithAPIKey(gatewayKey))
	}
	client, err := feeder.NewHTTPClient(gatewayURL, clientOpts...)
	if err != nil {
		return fmt.Errorf("constructing gateway client: %w", err)
	}

	if p2pSync {
		logger.Warn("p2p_sync requested but no p2p transport is wired in this deployment, falling back to the feeder gateway")
	}

	pipeline, err := feeder.NewForwardSync(ctx, client, importer, contractsTrie, db, head, disableTries, feeder.DefaultForwardSyncConfig())
	if err != nil {
		return fmt.Errorf("constructing forward sync pipeline: %w", err)
	}
	defer pipeline.Close()

	probe := feeder.NewLatestProbe(client)
	controller := sync.NewController(pipeline, probe, sync.DefaultControllerConfig(), syncMetrics)

	var stopAt *uint64
	if syncStopAt > 0 {
		stopAt = &syncStopAt
	}
	if err := controller.Run(ctx, stopAt); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync controller: %w", err)
	}

	if stopOnSync {
		logger.Info("stop_on_sync set and target reached, shutting down")
	}
	return nil
}

func openDatabase() (kv.Database, error) {
	if dbInMem {
		return kv.NewMemDatabase(), nil
	}
	return kv.OpenLMDB(kv.LMDBOptions{Path: dbPath})
}

func serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "err", err)
		}
	}()
}

func defaultCPUSlots() int {
	return 4
}
