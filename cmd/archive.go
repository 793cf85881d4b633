package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/config"
	"github.com/JakeFAU/post-archiver/internal/fetcher"
	collyfetcher "github.com/JakeFAU/post-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/post-archiver/internal/hash/sha256"
	"github.com/JakeFAU/post-archiver/internal/id/uuid"
	"github.com/JakeFAU/post-archiver/internal/metrics"
	"github.com/JakeFAU/post-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/post-archiver/internal/ratelimit"
	"github.com/JakeFAU/post-archiver/internal/records"
	"github.com/JakeFAU/post-archiver/internal/sequencer"
	"github.com/JakeFAU/post-archiver/internal/storage/gcs"
	"github.com/JakeFAU/post-archiver/internal/storage/local"
	"github.com/JakeFAU/post-archiver/internal/storage/postgres"
)

// newArchiveCmd creates the 'archive' subcommand.
func newArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <field>",
		Short: "Archives the posts of one post field",
		Long: `Reads every student metadata file, downloads the post linked under
the given field (for example Post1) and writes it to <output_base>/<field>/s<id>.html,
indexing each student in <output_base>/<field>/summary.csv. Records are
processed strictly one at a time.`,
		Args: cobra.ExactArgs(1),
		RunE: runArchiveCommand,
	}
}

func runArchiveCommand(cmd *cobra.Command, args []string) error {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return err
	}
	field := args[0]
	if err := rt.cfg.ValidateField(field); err != nil {
		return err
	}
	return runArchive(cmd.Context(), rt.cfg, field, rt.logger)
}

// cleanupStack runs deferred shutdown steps in reverse order.
type cleanupStack []func()

func (c *cleanupStack) push(fn func()) { *c = append(*c, fn) }

func (c cleanupStack) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func runArchive(ctx context.Context, cfg config.Config, field string, logger *zap.Logger) (err error) {
	batchID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate batch id: %w", err)
	}
	logger = logger.With(zap.String("field", field), zap.String("batch_id", batchID))
	startedAt, err := uuid.CreatedAt(batchID)
	if err != nil {
		return fmt.Errorf("read batch id: %w", err)
	}
	logger.Info("batch starting", zap.Time("started_at", startedAt))

	var cleanup cleanupStack
	defer cleanup.run()

	if cfg.Metrics.Enabled {
		stopMetrics := serveMetrics(cfg.Metrics.Addr, logger)
		cleanup.push(stopMetrics)
	}

	source, err := records.New(records.Config{
		Dir:     cfg.Archive.DataDir,
		Exclude: cfg.Archive.Exclude,
		IDKey:   cfg.Archive.IDKey,
	}, logger.Named("records"))
	if err != nil {
		return fmt.Errorf("init record source: %w", err)
	}

	var limiter fetcher.Limiter
	if cfg.HTTP.HostRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{HostRPS: cfg.HTTP.HostRPS, HostBurst: cfg.HTTP.HostBurst})
	}
	f, err := fetcher.New(
		collyfetcher.New(collyfetcher.Config{UserAgent: cfg.HTTP.UserAgent, Timeout: cfg.HTTPTimeout()}),
		limiter,
		fetcher.Config{MaxRedirects: cfg.Archive.MaxRedirects, RedirectDelay: cfg.RedirectDelay()},
		logger.Named("fetcher"),
	)
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}

	store, err := local.New(local.Config{BaseDir: cfg.Archive.OutputBase, Field: field})
	if err != nil {
		return fmt.Errorf("init output directory: %w", err)
	}
	summary, err := local.CreateSummary(store.Dir(), field)
	if err != nil {
		return fmt.Errorf("init summary: %w", err)
	}
	defer func() {
		if closeErr := summary.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	opts, err := buildSinks(ctx, cfg, logger, &cleanup)
	if err != nil {
		return err
	}
	opts = append(opts, sequencer.WithHasher(sha256.New()))

	seq, err := sequencer.New(sequencer.Config{Field: field, BatchID: batchID}, f, store, summary, logger, opts...)
	if err != nil {
		return fmt.Errorf("init sequencer: %w", err)
	}
	report, err := seq.Run(ctx, source)
	if err != nil {
		logger.Warn("batch stopped", zap.String("state", string(seq.State())), zap.Int("processed", report.Processed))
		return fmt.Errorf("archive %s: %w", field, err)
	}
	logger.Info("archive complete",
		zap.String("output_dir", store.Dir()),
		zap.Int("processed", report.Processed),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)),
	)
	return nil
}

// buildSinks connects the optional mirrors and notifiers that are configured.
func buildSinks(ctx context.Context, cfg config.Config, logger *zap.Logger, cleanup *cleanupStack) ([]sequencer.Option, error) {
	var opts []sequencer.Option

	if cfg.Storage.GCSBucket != "" {
		client, err := gcs.Connect(ctx, cfg.Storage.GCSBucket, logger)
		if err != nil {
			return nil, err
		}
		cleanup.push(func() {
			if err := client.Close(); err != nil {
				logger.Warn("close gcs client", zap.Error(err))
			}
		})
		mirror, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs mirror: %w", err)
		}
		opts = append(opts, sequencer.WithMirror("gcs", mirror))
		logger.Info("gcs mirror enabled", zap.String("bucket", cfg.Storage.GCSBucket))
	}

	if cfg.DB.DSN != "" {
		ledger, err := postgres.New(ctx, postgres.Config{
			DSN:        cfg.DB.DSN,
			Table:      cfg.DB.Table,
			BatchTable: cfg.DB.BatchTable,
			MaxConns:   cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres ledger: %w", err)
		}
		cleanup.push(ledger.Close)
		if err := ledger.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("init postgres ledger: %w", err)
		}
		opts = append(opts, sequencer.WithMirror("postgres", ledger), sequencer.WithNotifier("postgres", ledger))
		logger.Info("postgres ledger enabled")
	}

	if cfg.PubSub.TopicName != "" {
		client, notifier, err := pubsub.Connect(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, logger)
		if err != nil {
			return nil, fmt.Errorf("init pubsub notifier: %w", err)
		}
		cleanup.push(func() {
			notifier.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("close pubsub client", zap.Error(err))
			}
		})
		opts = append(opts, sequencer.WithNotifier("pubsub", notifier))
		logger.Info("pubsub notifier enabled", zap.String("topic", cfg.PubSub.TopicName))
	}

	return opts, nil
}

// serveMetrics exposes /metrics while the batch runs and returns its shutdown.
func serveMetrics(addr string, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", zap.Error(err))
		}
	}
}
