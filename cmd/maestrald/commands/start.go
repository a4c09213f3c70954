package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/bogwonch/maestral/cmd/maestralctl/cmdutil"
	"github.com/bogwonch/maestral/internal/cli/timeutil"
	"github.com/bogwonch/maestral/internal/config"
	"github.com/bogwonch/maestral/internal/logger"
	"github.com/bogwonch/maestral/internal/telemetry"
	"github.com/bogwonch/maestral/pkg/metrics"
	"github.com/bogwonch/maestral/pkg/remote"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the maestrald daemon",
	Long: `Run the maestrald daemon in the foreground.

Drives the remote's long-poll change feed so the cursor stays current,
and exposes a localhost status endpoint for external pollers. Press
Ctrl+C to stop.

Examples:
  maestrald start
  maestrald start --config /etc/maestral/config.yaml`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "maestral",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "maestral",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	credStore, stateStore, err := cmdutil.OpenStores(cfg)
	if err != nil {
		return fmt.Errorf("failed to open local stores: %w", err)
	}
	defer func() { _ = stateStore.Close() }()
	defer func() { _ = credStore.Close() }()

	clientCfg := remote.Config{
		Endpoints:        cmdutil.OAuthEndpoints,
		BaseURL:          "https://api.dropboxapi.com",
		ContentURL:       "https://content.dropboxapi.com",
		UserAgentSuffix:  cfg.Client.UserAgentSuffix,
		RequestTimeout:   cfg.Client.Timeout,
		ChunkSize:        cfg.Transfer.DefaultChunkSize,
		MaxUploadRetries: cfg.Transfer.MaxRetries,
		BatchSize:        cfg.Batch.DefaultBatchSize,
	}
	client := remote.New(clientCfg, credStore, stateStore)
	defer client.Close()

	d := &daemon{client: client, stateStore: stateStore, startedAt: time.Now()}

	srv := &http.Server{Handler: d.router()}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to bind status endpoint: %w", err)
	}
	logger.Info("Status endpoint listening", "addr", listener.Addr().String())

	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.Serve(listener) }()

	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		d.runChangeFeed(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("maestrald is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		<-feedDone
		logger.Info("maestrald stopped gracefully")
	case err := <-serverDone:
		cancel()
		<-feedDone
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("status endpoint error: %w", err)
		}
	}

	return nil
}

// daemon holds the long-lived state maestrald exposes over its status
// endpoint and drives through the change feed.
type daemon struct {
	client     *remote.RemoteClient
	stateStore statestoreReader
	startedAt  time.Time
}

// statestoreReader is the subset of *statestore.Store the daemon needs to
// read/persist the cursor it tracks.
type statestoreReader interface {
	Get(section, key string) (string, bool, error)
	Set(section, key, value string) error
}

func (d *daemon) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/status", d.handleStatus)
	return r
}

type statusResponse struct {
	Linked bool   `json:"linked"`
	Cursor string `json:"cursor,omitempty"`
	Uptime string `json:"uptime"`
	Error  string `json:"error,omitempty"`
}

func (d *daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Uptime: timeutil.FormatUptime(time.Since(d.startedAt).String())}

	linked, err := d.client.Linked()
	if err != nil {
		resp.Error = err.Error()
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}
	resp.Linked = linked

	if linked {
		if cursor, found, err := d.stateStore.Get("sync", "cursor"); err == nil && found {
			resp.Cursor = cursor
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// runChangeFeed keeps the locally-persisted cursor current by long-polling
// the remote's change feed. It does not itself reconcile local filesystem
// state against those changes — that is the sync engine's job, an
// external collaborator this daemon does not implement.
func (d *daemon) runChangeFeed(ctx context.Context) {
	linked, err := d.client.Linked()
	if err != nil || !linked {
		return
	}

	cursor, found, err := d.stateStore.Get("sync", "cursor")
	if err != nil {
		logger.Error("failed to read stored cursor", "error", err)
		return
	}
	if !found {
		latest, err := d.client.Changes().GetLatestCursor(ctx, "", true)
		if err != nil {
			logger.Error("failed to seed initial cursor", "error", err)
			return
		}
		cursor = string(latest)
		if err := d.stateStore.Set("sync", "cursor", cursor); err != nil {
			logger.Error("failed to persist initial cursor", "error", err)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		hasChanges, err := d.client.Changes().WaitForChanges(ctx, remote.Cursor(cursor), 30*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("long-poll failed, backing off", "error", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if !hasChanges {
			continue
		}

		_, next, err := d.client.Changes().ListRemoteChanges(ctx, remote.Cursor(cursor))
		if err != nil {
			logger.Error("failed to fetch changes", "error", err)
			continue
		}
		cursor = string(next)
		if err := d.stateStore.Set("sync", "cursor", cursor); err != nil {
			logger.Error("failed to persist cursor", "error", err)
		}
	}
}
