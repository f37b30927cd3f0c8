package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/catmosaic/catmosaic/internal/admin"
	"github.com/catmosaic/catmosaic/internal/config"
	"github.com/catmosaic/catmosaic/internal/logging/loki"
	"github.com/catmosaic/catmosaic/internal/metrics"
	"github.com/catmosaic/catmosaic/internal/remote"
	"github.com/catmosaic/catmosaic/internal/store"
	"github.com/catmosaic/catmosaic/internal/svc"
	"github.com/catmosaic/catmosaic/internal/tracing"
	"github.com/catmosaic/catmosaic/internal/worker"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingest and batch workers",
		Long: `Run fetch workers that add new images to the in-memory store and batch
workers that upload random batches from it. Runs until interrupted.

Flags override values from the config file.`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}
	runCmd.Flags().StringVarP(&serverURL, "server", "s", "http://127.0.0.1:8080", "image endpoint base URL")
	runCmd.Flags().IntVarP(&fetchers, "fetchers", "f", 4, "number of ingest workers")
	runCmd.Flags().IntVarP(&builders, "builders", "b", 4, "number of batch workers")
	runCmd.Flags().StringVarP(&runMode, "mode", "m", "archive", "batch output: archive or mosaic")
	runCmd.Flags().StringVar(&opsListen, "ops-listen", "", "address for /metrics, /healthz and /stats (disabled when empty)")
	runCmd.Flags().StringVar(&serviceRun, "service", "", "run under the service manager with this service name")
	_ = runCmd.Flags().MarkHidden("service")
	runCmd.Flags().BoolVar(&enableTrace, "trace", false, "keep a runtime trace, served on /debug/trace (requires --ops-listen)")
	return runCmd
}

func runRun(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Logging.Loki.URL != "" {
		shipper := newLogShipper(cfg)
		setupLogging(shipper)
		shipCtx, stopShipping := context.WithCancel(context.Background())
		shipped := make(chan struct{})
		go func() {
			defer close(shipped)
			shipper.Run(shipCtx)
		}()
		// Runs after the pipeline has logged its last line.
		defer func() {
			stopShipping()
			<-shipped
		}()
		log.Info().Str("url", cfg.Logging.Loki.URL).Msg("shipping logs to loki")
	}

	m := metrics.InitMetrics(instanceName(), Version)

	if serviceRun != "" {
		svcCfg := svc.DefaultConfig()
		svcCfg.Name = serviceRun
		svcCfg.ConfigPath = cfgFile
		log.Info().Str("name", serviceRun).Str("config", cfgFile).Msg("starting as service")
		return svc.Run(svcCfg, func(ctx context.Context) error {
			return runPipeline(ctx, cfg, m)
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runPipeline(ctx, cfg, m)
}

// newLogShipper builds the Loki writer, labelled with this instance and the
// batch mode.
func newLogShipper(cfg *config.Config) *loki.Writer {
	labels := map[string]string{"instance": instanceName()}
	for k, v := range cfg.Logging.Loki.Labels {
		labels[k] = v
	}
	w := loki.NewWriter(loki.Config{
		URL:           cfg.Logging.Loki.URL,
		Labels:        labels,
		BatchSize:     cfg.Logging.Loki.BatchSize,
		FlushInterval: cfg.LokiFlushInterval(),
	})
	if _, ok := labels["mode"]; !ok {
		w.SetLabel("mode", string(cfg.Batch.Mode))
	}
	return w
}

// loadConfig reads the config file, or returns defaults when none is given.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.Load(cfgFile)
}

// applyRunFlags overrides cfg with run flags the user set explicitly.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Server = serverURL
	}
	if flags.Changed("fetchers") {
		cfg.Ingest.Workers = fetchers
	}
	if flags.Changed("builders") {
		cfg.Batch.Workers = builders
	}
	if flags.Changed("mode") {
		m, err := config.ParseMode(runMode)
		if err != nil {
			return err
		}
		cfg.Batch.Mode = m
	}
	if flags.Changed("ops-listen") {
		cfg.Ops.Listen = opsListen
	}
	if flags.Changed("trace") {
		cfg.Ops.Trace = enableTrace
	}
	return nil
}

// runPipeline wires the store, workers, collector and admin server and runs
// them until ctx is cancelled.
func runPipeline(ctx context.Context, cfg *config.Config, m *metrics.Metrics) error {
	st := store.New()
	client := remote.NewClient(cfg.Server, remote.Options{
		Timeout:    cfg.RequestTimeout(),
		MaxPayload: int64(cfg.Ingest.MaxPayload),
	})
	defer client.CloseIdleConnections()

	var limiter *rate.Limiter
	if cfg.Ingest.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Ingest.RateLimit), 1)
	}

	retry := cfg.RemoteRetry()
	supervisor := func(pool string) *worker.Supervisor {
		return worker.NewSupervisor(worker.SupervisorConfig{
			Pool:           pool,
			InitialBackoff: retry.InitialBackoff,
			MaxBackoff:     retry.MaxBackoff,
			UnhealthyAfter: cfg.Retry.UnhealthyAfter,
			Metrics:        m,
		})
	}

	ingest := supervisor("ingest")
	for i := range cfg.Ingest.Workers {
		ingest.Add(worker.NewIngester(i, worker.IngestConfig{
			Client:  client,
			Store:   st,
			Retry:   retry,
			Limiter: limiter,
			Metrics: m,
		}))
	}

	batch := supervisor("batch")
	for i := range cfg.Batch.Workers {
		batch.Add(worker.NewBatcher(i, worker.BatchConfig{
			Client:      client,
			Store:       st,
			Mode:        cfg.Batch.Mode,
			Size:        cfg.Batch.Size,
			Interval:    cfg.BatchInterval(),
			JPEGQuality: cfg.Batch.JPEGQuality,
			Layout:      cfg.Layout(),
			Retry:       retry,
			Metrics:     m,
		}))
	}

	pools := worker.Group{ingest, batch}

	var srv *admin.AdminServer
	if cfg.Ops.Listen != "" {
		src := admin.Sources{Store: st, Pools: pools}
		if cfg.Ops.Trace {
			rec, err := tracing.Start(int(cfg.Ops.TraceBuffer))
			if err != nil {
				return fmt.Errorf("start trace recorder: %w", err)
			}
			defer rec.Stop()
			src.Trace = rec
		}
		srv = admin.NewAdminServer(src)
		if err := srv.Start(cfg.Ops.Listen); err != nil {
			return fmt.Errorf("start admin server: %w", err)
		}
	}

	log.Info().
		Str("server", client.BaseURL()).
		Int("fetchers", cfg.Ingest.Workers).
		Int("builders", cfg.Batch.Workers).
		Str("mode", string(cfg.Batch.Mode)).
		Int("batch_size", cfg.Batch.Size).
		Str("max_payload", cfg.Ingest.MaxPayload.String()).
		Msg("catmosaic starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pools.Run(ctx) })
	g.Go(func() error {
		collector := metrics.NewCollector(m, metrics.CollectorConfig{Store: st, Health: pools})
		collector.Run(ctx, cfg.CollectInterval())
		return nil
	})
	if srv != nil {
		g.Go(func() error {
			<-ctx.Done()
			return srv.Stop()
		})
	}

	err := g.Wait()
	log.Info().Int("images", st.Len()).Msg("catmosaic stopped")
	return err
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "catmosaic"
	}
	return host
}
