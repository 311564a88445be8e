// Package daemon runs the agento server process: it opens the store, wires
// the lifecycle controller, status monitor and stream relays into the HTTP
// API, and shuts everything down in order when its context ends.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/majorcontext/agento/internal/agent"
	"github.com/majorcontext/agento/internal/api"
	"github.com/majorcontext/agento/internal/config"
	"github.com/majorcontext/agento/internal/container"
	"github.com/majorcontext/agento/internal/log"
	"github.com/majorcontext/agento/internal/monitor"
	"github.com/majorcontext/agento/internal/ports"
	"github.com/majorcontext/agento/internal/proxy"
	"github.com/majorcontext/agento/internal/storage"
	"github.com/majorcontext/agento/internal/vault"
	"github.com/majorcontext/agento/internal/vault/keyring"
)

// ErrNotInitialized is returned when the data directory has not been set up.
var ErrNotInitialized = errors.New(`agento is not initialized; run "agento init" first`)

const shutdownTimeout = 10 * time.Second

// Run serves the API until ctx is canceled.
func Run(ctx context.Context, cfg *config.Config) error {
	if !config.Exists(cfg.DataDir) {
		return ErrNotInitialized
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	if info, err := ReadPIDFile(cfg.PIDPath()); err == nil && info != nil && info.IsAlive() && info.PID != os.Getpid() {
		return fmt.Errorf("agento is already running (pid %d)", info.PID)
	}

	backend := keyring.New(cfg.MasterKeyPath(), cfg.Vault.Keychain)
	if _, err := backend.Get(); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotInitialized
		}
		return fmt.Errorf("reading master key from %s: %w", backend.Name(), err)
	}
	secrets := vault.New(backend)

	store, err := storage.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()

	apiSecret, err := store.GetSetting(ctx, storage.SettingAPISecret)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotInitialized
	}
	if err != nil {
		return err
	}

	alloc := ports.New(store, cfg.Ports.Base)
	if err := alloc.Init(ctx); err != nil {
		return err
	}

	driver, err := container.NewDockerDriver()
	if err != nil {
		return err
	}
	defer driver.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := driver.Ping(pingCtx); err != nil {
		log.Warn("docker engine unreachable; agents cannot start until it is available", "error", err)
	}
	cancel()

	ctrl := agent.New(store, alloc, secrets, driver, agent.Options{
		Image:       cfg.DockerImage,
		AgentsDir:   cfg.AgentsDir(),
		CallbackURL: fmt.Sprintf("http://host.docker.internal:%d/internal/credentials", cfg.Port),
		Limits: container.Limits{
			MemoryMB:    cfg.Container.MemoryMB,
			CPUs:        cfg.Container.CPUs,
			PidsLimit:   cfg.Container.PidsLimit,
			TmpfsSize:   cfg.Container.TmpfsSize,
			ServicePort: cfg.Container.ServicePort,
		},
	})

	mon := monitor.New(driver, store, monitor.Options{
		Interval:    cfg.Monitor.Interval,
		CallTimeout: cfg.Monitor.CallTimeout,
	})

	streamer := container.NewCLIStreamer(cfg.DockerBinary)
	origins := []string{
		fmt.Sprintf("http://localhost:%d", cfg.FrontendPort),
		fmt.Sprintf("https://localhost:%d", cfg.FrontendPort),
	}
	server := api.New(api.Options{
		Store:          store,
		Controller:     ctrl,
		Vault:          secrets,
		Status:         mon.Cache(),
		Chat:           proxy.NewChat(proxy.ChatOptions{}),
		Logs:           proxy.NewLogs(streamer),
		Terminal:       proxy.NewTerminal(streamer, []string{"localhost:" + strconv.Itoa(cfg.FrontendPort)}),
		APISecret:      apiSecret,
		AllowedOrigins: origins,
		CallbackRate:   cfg.CallbackRate,
	})

	addr := net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	pid := os.Getpid()
	if err := WritePIDFile(cfg.PIDPath(), ProcessInfo{PID: pid, Port: cfg.Port}); err != nil {
		ln.Close()
		return err
	}
	defer RemovePIDFile(cfg.PIDPath(), pid)

	monCtx, stopMonitor := context.WithCancel(context.WithoutCancel(ctx))
	defer stopMonitor()
	mon.Start(monCtx)
	defer mon.Stop()

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			err = srv.ServeTLS(ln, cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.Serve(ln)
		}
		serveErr <- err
	}()
	log.Info("agento server listening", "addr", ln.Addr().String(), "pid", pid, "image", cfg.DockerImage)

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving API: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Streaming responses hold connections open; close whatever is left.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown incomplete", "error", err)
		_ = srv.Close()
	}
	return nil
}
