package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"stream-acquirer/internal/orchestrator"
	"stream-acquirer/internal/platform/config"
	"stream-acquirer/internal/platform/logger"
	"stream-acquirer/internal/platform/metrics"
	"stream-acquirer/internal/segments"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session HTTP API",
		Long: `Run the session HTTP API. A browser collaborator posts the network
requests it observes to /sessions/{session_id}/events and starts an
acquisition with POST /sessions/{session_id}/acquire. Each session writes its
output into <output-dir>/<session_id>.

Examples:
  acquirer serve --port 9090 --output-dir ./downloads
  ACQUIRER_DOWNLOAD_CONCURRENCY=16 acquirer serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Serve(ctx, a.settings, a.log)
		},
	}

	cmd.Flags().String("port", "8080", "listen port")
	cmd.Flags().String("output-dir", ".", "root directory for session outputs")
	cmd.Flags().String("staging-dir", "", "directory for segment staging (default is the system temp dir)")
	cmd.Flags().Int("concurrency", segments.DefaultConcurrency, "concurrent segment downloads per acquisition")
	cmd.Flags().String("quality", "best", "variant preference: best, worst or a resolution such as 720p")
	cmd.Flags().String("ffmpeg", "ffmpeg", "ffmpeg binary")
	return cmd
}

// Serve runs the session HTTP API until ctx is done, then drains connections
// and cancels running acquisitions within the shutdown timeout.
func Serve(ctx context.Context, s *config.Settings, log *slog.Logger) error {
	met := metrics.New()
	acq, err := newAcquirer(s, met, log)
	if err != nil {
		return err
	}

	repo := orchestrator.NewInMemoryRepository()
	svc := orchestrator.NewService(repo, acq, acquireOptions(s), log)
	h := orchestrator.NewHandler(svc, log, met)

	addr := ":" + s.Server.Port
	srv := &http.Server{Addr: addr, Handler: newRouter(h, repo, met, log)}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info("server starting",
		slog.String("port", s.Server.Port),
		slog.String("output_dir", s.Download.OutputDir),
		slog.Int("concurrency", s.Download.Concurrency),
		slog.String("log_level", s.Log.Level),
	)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, draining connections")

	sctx, cancel := context.WithTimeout(context.Background(), s.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(sctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown server: %w", err))
	}
	if err := svc.Shutdown(sctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown acquisitions: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	log.Info("server stopped")
	return nil
}

func newRouter(h *orchestrator.Handler, repo orchestrator.Repository, met *metrics.Metrics, log *slog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get(metrics.MetricsPath, func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetActiveJobs(repo.ActiveJobCount())
			met.SetSessions(repo.SessionCount())
		}).ServeHTTP(w, r)
	})
	h.Routes(r)
	return r
}
