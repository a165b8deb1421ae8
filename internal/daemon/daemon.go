package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/scoutman/internal/config"
	"github.com/allaspectsdev/scoutman/internal/metrics"
	"github.com/allaspectsdev/scoutman/internal/provider"
	"github.com/allaspectsdev/scoutman/internal/server"
	"github.com/allaspectsdev/scoutman/internal/store"
	"github.com/allaspectsdev/scoutman/internal/tracing"
	"github.com/allaspectsdev/scoutman/internal/vault"
	"github.com/allaspectsdev/scoutman/internal/version"
)

// SetupLogging points the global zerolog logger at dataDir/scoutman.log,
// plus a console writer in the foreground. The returned closer releases
// the log file.
func SetupLogging(cfg *config.Config, foreground bool) (io.Closer, error) {
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	zerolog.SetGlobalLevel(parseLogLevel(cfg.Server.LogLevel))

	logPath := filepath.Join(dataDir, "scoutman.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", logPath, err)
	}

	writers := []io.Writer{logFile}
	if foreground {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().Timestamp().Str("service", "scoutman").Logger()
	return logFile, nil
}

// Run is the main daemon orchestrator. It wires the router and aggregator,
// starts the API and dashboard servers, and blocks until a shutdown signal
// is received.
func Run(cfg *config.Config, foreground bool) error {
	logCloser, err := SetupLogging(cfg, foreground)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	dataDir := expandHome(cfg.Server.DataDir)
	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("scoutman starting")

	if err := AcquirePID(dataDir); err != nil {
		return err
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	// Tracing.
	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(context.Background(), tracing.Options{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     version.Version,
			Exporter:    cfg.Tracing.Exporter,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRate:  cfg.Tracing.SampleRate,
			Insecure:    cfg.Tracing.Insecure,
		})
		if err != nil {
			return fmt.Errorf("initialising tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				log.Error().Err(err).Msg("tracing shutdown error")
			}
		}()
		log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing enabled")
	}

	// Attempt log.
	var st *store.Store
	collector := metrics.NewCollector()
	observers := provider.Observers{collector}
	if cfg.Metrics.Persist {
		dbPath := filepath.Join(dataDir, "scoutman.db")
		st, err = store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()
		observers = append(observers, st)
		log.Info().Str("db_path", dbPath).Msg("store opened")
	}

	// Providers.
	stack, err := Build(cfg, vault.New(), observers, log.Logger)
	if err != nil {
		return err
	}
	collector.WatchCache(stack.Cache.Stats)

	handler := newHandler(stack, collector, st, cfg)
	apiServer := server.New(handler, server.Options{
		Addr:          net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.Port)),
		ReadTimeout:   time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:  time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:   time.Duration(cfg.Server.IdleTimeout) * time.Second,
		AuthTokenFunc: liveAuthToken,
		Tracing:       cfg.Tracing.Enabled,
	})

	errCh := make(chan error, 2)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("api server starting")
		if err := apiServer.Start(); err != nil {
			errCh <- err
		}
	}()

	var dashServer *metrics.DashboardServer
	if cfg.Dashboard.Enabled {
		dashAddr := net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.DashboardPort))
		dashServer = metrics.NewDashboardServer(collector, st, cfg, handler.Health, dashAddr)
		go func() {
			if err := dashServer.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	// Config hot-reload.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}
	if _, statErr := os.Stat(configFile); statErr == nil {
		watcher, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				zerolog.SetGlobalLevel(parseLogLevel(newCfg.Server.LogLevel))
				if dashServer != nil {
					dashServer.SetConfig(newCfg)
				}
				if sections := config.RestartRequired(old, newCfg); len(sections) > 0 {
					log.Warn().Strs("sections", sections).Msg("configuration reloaded; restart scoutman to apply these sections")
					return
				}
				log.Info().Msg("configuration reloaded")
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// Retention.
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		if st != nil {
			runPruner(pruneCtx, st, time.Hour)
		}
	}()

	log.Info().
		Int("port", cfg.Server.Port).
		Int("dashboard_port", cfg.Server.DashboardPort).
		Bool("dashboard", cfg.Dashboard.Enabled).
		Msg("scoutman is ready")
	if foreground {
		fmt.Printf("\n  scoutman is running!\n")
		fmt.Printf("  API:       http://localhost:%d\n", cfg.Server.Port)
		if cfg.Dashboard.Enabled {
			fmt.Printf("  Dashboard: http://localhost:%d\n", cfg.Server.DashboardPort)
		}
		fmt.Println()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("fatal server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down servers...")
	if dashServer != nil {
		if err := dashServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("dashboard server shutdown error")
		}
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown error")
	}

	// Wait for the pruner before the deferred store close.
	pruneCancel()
	<-prunerDone

	log.Info().Msg("scoutman stopped")
	return runErr
}

// newHandler builds the API handler over the stack. Nil backends stay nil
// interfaces so the handler answers 503 for them.
func newHandler(stack *Stack, collector *metrics.Collector, st *store.Store, cfg *config.Config) *server.Handler {
	var gen server.Generator
	if stack.Router != nil {
		gen = stack.Router
	}
	var srch server.Searcher
	if stack.Search != nil {
		srch = stack.Search
	}

	opts := []server.HandlerOption{
		server.WithRecorder(collector),
		server.WithMaxBodySize(cfg.Server.MaxBodySize),
	}
	if st != nil {
		opts = append(opts, server.WithOperationStore(st))
	}
	return server.NewHandler(gen, srch, log.Logger, opts...)
}

// liveAuthToken reads the API token from the current config.
func liveAuthToken() string {
	cfg := config.Get()
	if cfg == nil || !cfg.Auth.Enabled {
		return ""
	}
	return cfg.Auth.Token
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("scoutman does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return errors.New("scoutman is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to scoutman (PID %d)\n", pid)

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}
	return nil
}

// Status checks if the daemon is running and prints a summary fetched from
// the dashboard API.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("scoutman is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("scoutman is running (PID %d)\n", pid)

	if !cfg.Dashboard.Enabled {
		return nil
	}

	base := fmt.Sprintf("http://localhost:%d", cfg.Server.DashboardPort)
	client := &http.Client{Timeout: 3 * time.Second}

	var stats metrics.Stats
	if err := fetchJSON(client, base+"/api/stats", liveAuthToken(), &stats); err != nil {
		fmt.Println("  (dashboard unreachable)")
		return nil
	}
	fmt.Printf("\n  Uptime:         %s\n", stats.Uptime)
	fmt.Printf("  Operations:     %d (%.1f%% succeeded)\n", stats.Operations, stats.SuccessRate)
	fmt.Printf("  Attempts:       %d (%d failed, %d skipped)\n", stats.Attempts, stats.FailedAttempts, stats.SkippedAttempts)
	fmt.Printf("  Cache Hit Rate: %.1f%% (%d hits / %d misses)\n", stats.CacheHitRate, stats.CacheHits, stats.CacheMisses)
	fmt.Printf("  Active:         %d\n", stats.ActiveOperations)

	var health map[string][]provider.State
	if err := fetchJSON(client, base+"/api/providers", liveAuthToken(), &health); err == nil {
		PrintHealth(os.Stdout, health)
	}
	return nil
}

// PrintHealth writes one line per provider, generation table first.
func PrintHealth(w io.Writer, health map[string][]provider.State) {
	for _, op := range []string{string(provider.OpGenerate), string(provider.OpSearch)} {
		states, ok := health[op]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "\n  %s providers:\n", op)
		for _, s := range states {
			line := fmt.Sprintf("    %-12s p%-2d %-9s %d/%d failures", s.Name, s.Priority, s.Health, s.ConsecutiveFailures, s.MaxFailures)
			if !s.Configured {
				line += "  (not configured)"
			}
			fmt.Fprintln(w, line)
		}
	}
}

func fetchJSON(client *http.Client, url, token string, v any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// runPruner deletes rows older than the configured retention every
// interval. Retention is read from the live config on each tick.
func runPruner(ctx context.Context, st *store.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneOnce(st, config.Get().Metrics.RetentionDays)
		}
	}
}

func pruneOnce(st *store.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("data pruner: recovered from panic")
		}
	}()
	n, err := st.Prune(retentionDays)
	if err != nil {
		log.Error().Err(err).Msg("data pruning failed")
	} else if n > 0 {
		log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old data")
	}
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
