package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/driveindex/internal/config"
	"github.com/tonimelisma/driveindex/internal/index"
	"github.com/tonimelisma/driveindex/internal/server"
	"github.com/tonimelisma/driveindex/internal/userstore"
)

const (
	// reloadDebounce coalesces the burst of events an editor save produces.
	reloadDebounce = 250 * time.Millisecond

	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Serve listings, downloads and login over HTTP. The config file is watched
and the index is rebuilt when it changes, or when the process receives
SIGHUP ('driveindex reload'). A config that fails to load or initialize
is logged and the running index stays in place. listen_addr changes need
a restart.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("listen", "", "listen address (overrides listen_addr)")
	cmd.Flags().String("pid-file", config.PIDFilePath(), "PID file path (empty disables)")
	cmd.Flags().Bool("no-watch", false, "do not watch the config file")

	return cmd
}

func newReloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask a running server to reload its config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pidPath, _ := cmd.Flags().GetString("pid-file")
			if err := signalServer(pidPath, syscall.SIGHUP); err != nil {
				return err
			}

			statusf("Notified running server to reload config\n")

			return nil
		},
	}

	cmd.Flags().String("pid-file", config.PIDFilePath(), "PID file of the running server")

	return cmd
}

// buildGeneration wires an index, codecs and user store from cfg. The
// generation's Closer releases the user store.
func buildGeneration(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.Generation, error) {
	idx, err := index.Build(ctx, cfg, nil, logger)
	if err != nil {
		return nil, err
	}

	_, sessions, err := index.Codecs(cfg)
	if err != nil {
		return nil, err
	}

	g := &server.Generation{Config: cfg}

	var users userstore.Store = staticUsers(cfg)

	if cfg.LoginDatabase == config.LoginDatabaseSQLite && (cfg.EnableLogin || cfg.EnableSignup) {
		db, err := userstore.OpenSQLite(ctx, cfg.UserDBFile(), logger)
		if err != nil {
			return nil, err
		}

		users, g.Closer = db, db
	}

	g.Server = server.New(idx, sessions, users, server.Options{
		ClientIPHeader:           cfg.ClientIPHeader,
		PathDownloads:            cfg.DownloadMode == config.DownloadModePath,
		EnableLogin:              cfg.EnableLogin,
		EnableSignup:             cfg.EnableSignup,
		DisableAnonymousDownload: cfg.DisableAnonymousDownload,
		EnableCORSFileDown:       cfg.EnableCORSFileDown,
		SessionTTL:               cfg.SessionTTL(),
		SingleSession:            cfg.SingleSession,
		IPChangedAction:          cfg.IPChangedAction,
	}, logger)

	return g, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	sigs := watchSignals(cmd.Context(), logger)
	defer sigs.stop()

	ctx := sigs.ctx

	if pidPath, _ := cmd.Flags().GetString("pid-file"); pidPath != "" {
		lock, err := acquirePIDLock(pidPath)
		if err != nil {
			return err
		}
		defer lock.release()
	}

	gen, err := buildGeneration(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}

	cli := config.CLIOverrides{ConfigPath: resolvedCfgPath}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cli.ListenAddr = &listen
	}

	env := config.ReadEnvOverrides()

	runner := &serveRunner{
		handler: server.NewReloadable(gen),
		path:    resolvedCfgPath,
		logger:  logger,
		load: func() (*config.Config, error) {
			cfg, _, err := config.Resolve(env, cli)
			return cfg, err
		},
		build: func(ctx context.Context, cfg *config.Config) (*server.Generation, error) {
			return buildGeneration(ctx, cfg, logger)
		},
	}

	var watcher configWatcher

	if noWatch, _ := cmd.Flags().GetBool("no-watch"); !noWatch {
		w, err := newFsWatcher(resolvedCfgPath)
		if err != nil {
			logger.Warn("config file watching disabled", slog.String("error", err.Error()))
		} else {
			watcher = w
			defer w.Close()
		}
	}

	httpSrv := &http.Server{
		Addr:              gen.Config.ListenAddr,
		Handler:           runner.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return runner.serve(ctx, httpSrv, watcher, sigs.reload)
}

// serve runs httpSrv and the reload loop until ctx is canceled, then drains
// the listener and retires every generation. Shutdown and retirement share
// shutdownTimeout.
func (s *serveRunner) serve(
	ctx context.Context, httpSrv *http.Server, watcher configWatcher, reload <-chan struct{},
) error {
	ln, err := net.Listen("tcp", httpSrv.Addr)
	if err != nil {
		s.close(context.Background())
		return fmt.Errorf("listening on %s: %w", httpSrv.Addr, err)
	}

	s.logger.Info("listening", slog.String("addr", ln.Addr().String()))

	serveErr := make(chan error, 1)

	go func() { serveErr <- httpSrv.Serve(ln) }()

	loopCtx, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})

	go func() {
		defer close(loopDone)
		s.loop(loopCtx, watcher, reload)
	}()

	var runErr error

	select {
	case err := <-serveErr:
		runErr = fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if runErr == nil {
		if err := httpSrv.Shutdown(drainCtx); err != nil {
			runErr = fmt.Errorf("shutting down: %w", err)
		} else if err := <-serveErr; !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serving: %w", err)
		}
	}

	// No reload may swap in a generation after close retires the current one.
	stopLoop()
	<-loopDone

	s.close(drainCtx)

	if runErr == nil {
		s.logger.Info("server stopped")
	}

	return runErr
}

// configWatcher is the part of fsnotify.Watcher the reload loop uses.
type configWatcher interface {
	Events() <-chan fsnotify.Event
	Errors() <-chan error
	Close() error
}

// fsWatcher watches the config file's directory, since editors often
// replace the file by rename, and filters events down to the file itself.
type fsWatcher struct {
	w      *fsnotify.Watcher
	path   string
	events chan fsnotify.Event
	done   chan struct{}
}

func newFsWatcher(path string) (*fsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	fw := &fsWatcher{
		w:      w,
		path:   filepath.Clean(path),
		events: make(chan fsnotify.Event),
		done:   make(chan struct{}),
	}
	go fw.filter()

	return fw, nil
}

func (fw *fsWatcher) filter() {
	defer close(fw.events)

	for ev := range fw.w.Events {
		if filepath.Clean(ev.Name) != fw.path || ev.Has(fsnotify.Chmod) {
			continue
		}

		select {
		case fw.events <- ev:
		case <-fw.done:
			return
		}
	}
}

func (fw *fsWatcher) Events() <-chan fsnotify.Event { return fw.events }
func (fw *fsWatcher) Errors() <-chan error          { return fw.w.Errors }

func (fw *fsWatcher) Close() error {
	close(fw.done)
	return fw.w.Close()
}

// serveRunner owns the live generation and swaps it on reload.
type serveRunner struct {
	handler *server.Reloadable
	path    string
	logger  *slog.Logger

	load  func() (*config.Config, error)
	build func(context.Context, *config.Config) (*server.Generation, error)

	// retiring tracks generations swapped out but still draining.
	retiring sync.WaitGroup
}

// loop reloads on config file changes and reload requests until ctx is
// done. A nil watcher disables file watching.
func (s *serveRunner) loop(ctx context.Context, watcher configWatcher, reload <-chan struct{}) {
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)

	if watcher != nil {
		events, errs = watcher.Events(), watcher.Errors()
	}

	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			s.logger.Debug("config file changed", slog.String("op", ev.Op.String()))
			debounce.Reset(reloadDebounce)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}

			s.logger.Warn("config watcher error", slog.String("error", err.Error()))

		case <-debounce.C:
			s.reload(ctx)

		case <-reload:
			s.logger.Info("SIGHUP received, reloading config")
			s.reload(ctx)
		}
	}
}

// reload loads the config and builds a new generation. On any failure the
// running generation stays in place. The replaced generation keeps its user
// store until its in-flight requests finish.
func (s *serveRunner) reload(ctx context.Context) bool {
	cfg, err := s.load()
	if err != nil {
		s.logger.Error("config reload failed, keeping current config", slog.String("error", err.Error()))
		return false
	}

	next, err := s.build(ctx, cfg)
	if err != nil {
		s.logger.Error("index rebuild failed, keeping current index", slog.String("error", err.Error()))
		return false
	}

	prev := s.handler.Swap(next)

	if prev.Config.ListenAddr != cfg.ListenAddr {
		s.logger.Warn("listen_addr changed; restart to apply",
			slog.String("current", prev.Config.ListenAddr),
			slog.String("configured", cfg.ListenAddr),
		)
	}

	s.retiring.Add(1)

	go func() {
		defer s.retiring.Done()

		retireCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		s.retire(retireCtx, prev)
	}()

	s.logger.Info("config reloaded", slog.String("path", s.path), slog.Int("roots", len(cfg.Roots)))

	return true
}

func (s *serveRunner) retire(ctx context.Context, g *server.Generation) {
	if err := g.Retire(ctx); err != nil {
		s.logger.Warn("retiring previous generation", slog.String("error", err.Error()))
	}
}

// close waits for pending retirements, then retires the current generation.
func (s *serveRunner) close(ctx context.Context) {
	s.retiring.Wait()
	s.retire(ctx, s.handler.Current())
}
