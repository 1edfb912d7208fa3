package main

import (
	"github.com/spf13/cobra"
)

// Flag variables, grounded on cmd/headers/commands/download.go's
// package-level flag-variable pattern (bufferSize, filesDir, ...).
var (
	dbPath          string
	dbInMem         bool
	syncDisabled    bool
	disableTries    bool
	gatewayURL      string
	gatewayKey      string
	chainID         string
	syncStopAt      uint64
	stopOnSync      bool
	p2pSync         bool
	metricsAddr     string
	classHashCache  int
	compiledCacheMB int
)

func init() {
	rootCmd.Flags().StringVar(&dbPath, "db_path", "starksync-data", "path to the LMDB data directory")
	rootCmd.Flags().BoolVar(&dbInMem, "db_in_mem", false, "use an in-memory database instead of LMDB (testing only)")
	rootCmd.Flags().BoolVar(&syncDisabled, "sync_disabled", false, "disable the sync pipeline entirely (serve existing data only)")
	rootCmd.Flags().BoolVar(&disableTries, "disable_tries", false, "skip global trie maintenance (headers/state only, no state root verification)")
	rootCmd.Flags().StringVar(&gatewayURL, "gateway_url", "https://alpha-mainnet.starknet.io/", "feeder gateway base URL")
	rootCmd.Flags().StringVar(&gatewayKey, "gateway_key", "", "feeder gateway API key (sent as x-throttling-bypass)")
	rootCmd.Flags().StringVar(&chainID, "chain_id", "SN_MAIN", "chain id used to derive the transaction hash domain")
	rootCmd.Flags().Uint64Var(&syncStopAt, "sync_stop_at", 0, "halt once this block number is fully imported (0 = unbounded)")
	rootCmd.Flags().BoolVar(&stopOnSync, "stop_on_sync", false, "exit the process once sync_stop_at is reached")
	rootCmd.Flags().BoolVar(&p2pSync, "p2p_sync", false, "prefer the p2p overlay over the feeder gateway (not yet implemented: falls back to gateway)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics_addr", "127.0.0.1:9090", "address to serve Prometheus metrics on")
	rootCmd.Flags().IntVar(&classHashCache, "class_hash_cache_entries", 4096, "class-hash scalar LRU cache size")
	rootCmd.Flags().IntVar(&compiledCacheMB, "compiled_class_cache_mb", 256, "compiled CASM fastcache size in MiB")
}

var rootCmd = &cobra.Command{
	Use:   "starksync",
	Short: "Starknet full-node block synchronization core",
}
