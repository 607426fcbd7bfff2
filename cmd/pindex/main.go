package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/pindex/pkg/analyzer"
	"github.com/cuemby/pindex/pkg/api"
	"github.com/cuemby/pindex/pkg/catalog"
	"github.com/cuemby/pindex/pkg/config"
	"github.com/cuemby/pindex/pkg/detector"
	"github.com/cuemby/pindex/pkg/gateway"
	"github.com/cuemby/pindex/pkg/log"
	"github.com/cuemby/pindex/pkg/metrics"
	"github.com/cuemby/pindex/pkg/noderpc"
	"github.com/cuemby/pindex/pkg/tagger"
	"github.com/cuemby/pindex/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pindex",
	Short: "Pindex - CID indexing service",
	Long: `Pindex keeps a searchable catalogue of the content pinned on a
storage node: it mirrors the pin set, detects content types with bounded
reads, expands directories, and serves lookup and search over HTTP.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Pindex version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the indexing daemon",
	Long: `Start the background tasks (pin synchronizer, type crawler,
directory expander) and the read-only HTTP API. Configuration comes from
the environment; every variable has a default.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	cfg := config.Load()

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	logger := log.WithComponent("main")
	logger.Info().Str("version", Version).Msg("starting pindex")

	cat, err := catalog.Open(cfg.DBPath, cfg.BusyTimeout)
	if err != nil {
		return fmt.Errorf("failed to open catalogue: %w", err)
	}
	defer cat.Close()

	// Migration steps are individually recoverable: a failed repair sweep
	// must not keep the daemon down.
	ctx := context.Background()
	if err := cat.Migrate(ctx); err != nil {
		logger.Warn().Err(err).Msg("catalogue migration reported errors")
	}

	node := noderpc.NewClient(cfg.NodeRPCBase, cfg.RequestTimeout, cfg.FetchRetries)
	gw := gateway.NewClient(cfg.GatewayBase, cfg.RequestTimeout, cfg.FetchRetries)

	det := detector.New(gw, detector.Config{
		SampleBytes:   cfg.SampleBytes,
		MaxTotalBytes: cfg.MaxTotalBytes,
		ClassifierURL: cfg.ExternalClassifierURL,
	}, func() {
		metrics.RangeIgnoredTotal.Inc()
		if err := cat.AddRangeIgnored(ctx, 1); err != nil {
			logger.Debug().Err(err).Msg("failed to persist range-ignored counter")
		}
	})

	tg := buildTagger(cfg)
	an := analyzer.New(tg, analyzer.Config{
		TextTaggerEnable:  cfg.TextTaggerEnable,
		ImageTaggerEnable: cfg.ImageTaggerEnable,
	})

	runners := []*worker.Runner{
		worker.NewRunner(worker.NewPinSync(cat, node), cfg.PinRefresh),
		worker.NewRunner(worker.NewTypeCrawler(cat, det, an, cfg.CrawlConcurrency, cfg.SearchTokenIndexMaxTokens), cfg.TypeRefresh),
		worker.NewRunner(worker.NewDirExpander(cat, node, worker.ExpanderConfig{
			MaxChildren:       cfg.DirExpandMaxChildren,
			MaxDepth:          cfg.DirExpandMaxDepth,
			TTL:               cfg.DirExpandTTL,
			MaxBatch:          cfg.DirExpandMaxBatch,
			Concurrency:       cfg.DirExpandConcurrency,
			PruneChildren:     cfg.DirExpandPruneChildren,
			TrackParent:       cfg.DirExpandTrackParent,
			PathIndexMaxFiles: cfg.PathIndexMaxFilesPerRoot,
			PathIndexMaxDepth: cfg.PathIndexMaxDepth,
			PathIndexMaxDirs:  cfg.PathIndexMaxDirsPerRoot,
		}), cfg.DirRefresh),
	}

	taskCtx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()
	for _, r := range runners {
		r.Start(taskCtx)
	}

	server := api.NewServer(cat, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}

	cancelTasks()
	for _, r := range runners {
		r.Stop()
	}
	if closer, ok := tg.(interface{ Close() }); ok {
		closer.Close()
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// buildTagger picks the subprocess worker when one is configured, otherwise
// the in-process fallback.
func buildTagger(cfg *config.Config) analyzer.Tagger {
	if cfg.MLWorkerEnable && cfg.MLWorkerCmd != "" {
		command := strings.Fields(cfg.MLWorkerCmd)
		return tagger.NewWorker(command, cfg.MLWorkerTaskTimeout, tagger.NewFallback())
	}
	return tagger.NewFallback()
}
