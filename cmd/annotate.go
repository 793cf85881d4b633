package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/annotator"
	"github.com/JakeFAU/post-archiver/internal/config"
)

const shutdownTimeout = 10 * time.Second

// newAnnotateCmd creates the 'annotate' subcommand.
func newAnnotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "annotate",
		Short: "Serves archived posts and the annotation store",
		Long: `Starts the annotation server on all interfaces. Annotations are kept
in memory and rewritten to the configured JSON database after every change.`,
		Args: cobra.NoArgs,
		RunE: runAnnotateCommand,
	}
}

func runAnnotateCommand(cmd *cobra.Command, _ []string) error {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return err
	}
	addr := fmt.Sprintf("0.0.0.0:%d", rt.cfg.Annotator.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return runAnnotate(cmd.Context(), rt.cfg, ln, rt.logger)
}

// runAnnotate serves on ln until ctx is done, then drains in-flight requests.
func runAnnotate(ctx context.Context, cfg config.Config, ln net.Listener, logger *zap.Logger) error {
	logger = logger.Named("annotator")
	store, err := annotator.OpenStore(cfg.Annotator.DBPath)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("open annotation db: %w", err)
	}
	logger.Info("annotation db loaded", zap.String("path", cfg.Annotator.DBPath), zap.Int("uris", store.URIs()))

	server, err := annotator.NewServer(store, annotator.Config{
		PostsDir:     cfg.Annotator.PostsDir,
		TemplatePath: cfg.Annotator.TemplatePath,
	}, logger)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("init annotator: %w", err)
	}

	srv := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	if urls, err := annotator.ReachableAddrs(ctx, cfg.Annotator.Port); err != nil {
		logger.Warn("list reachable addresses", zap.Error(err))
	} else {
		for _, u := range urls {
			logger.Info("server running", zap.String("url", u))
		}
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve annotator: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown annotator: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
