// Command crystald opens a Crystal project and serves it over HTTP,
// following the CLI surface described by spec.md §6: a project path,
// optional host/port overrides, and a --readonly flag. It mirrors the
// teacher's services/basic minimal-main shape (decode config, open
// storage, build a router, serve) adapted to crystal's own storage and
// server constructors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crystal-web-archiver/crystal/archive/download"
	"github.com/crystal-web-archiver/crystal/archive/model"
	"github.com/crystal-web-archiver/crystal/archive/project"
	"github.com/crystal-web-archiver/crystal/archive/replay"
	"github.com/crystal-web-archiver/crystal/archive/scheduler"
	"github.com/crystal-web-archiver/crystal/core/config"
	"github.com/crystal-web-archiver/crystal/core/logger"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.ParseFlags(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.ProjectPath == "" {
		fmt.Fprintln(os.Stderr, "crystald: a project path is required")
		os.Exit(1)
	}

	logger.InitLogger(cfg.LogLevelValue())
	log := logger.Default()

	proj, err := openOrCreate(cfg)
	if err != nil {
		log.WithError(err).Fatalln("cannot open project")
	}
	defer proj.Close()

	sched := scheduler.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	fetcher := download.NewFetcher(cfg.UserAgent)

	server, err := replay.New(proj, sched, fetcher)
	if err != nil {
		log.WithError(err).Fatalln("cannot build replay server")
	}

	listener, addr, err := listenWithFallback(cfg.Host, cfg.Port)
	if err != nil {
		log.WithError(err).Fatalln("cannot bind replay server")
	}
	log.WithField("addr", addr).Infoln("serving archive")

	httpServer := &http.Server{Handler: server.Handler()}
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.Serve(listener) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatalln("replay server stopped")
		}
	case <-sig:
		log.Infoln("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warnln("replay server did not shut down cleanly")
	}
	cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warnln("scheduler did not stop cleanly")
	}
}

func openOrCreate(cfg *config.Config) (*project.Project, error) {
	opts := project.Options{
		ForceReadOnly: cfg.ReadOnly,
		BindHost:      cfg.Host,
	}
	if len(cfg.KafkaBrokers) > 0 {
		opts.EventBus = model.NewEventBus(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	if _, err := os.Stat(cfg.ProjectPath); errors.Is(err, os.ErrNotExist) {
		return project.Create(cfg.ProjectPath, opts)
	} else if err != nil {
		return nil, err
	}
	return project.Open(cfg.ProjectPath, opts)
}

// listenWithFallback binds host:port, trying each following port in turn
// if the requested one is already in use, 20 ports in all, per spec.md §6 ("if in use, the
// next free port is tried automatically"). No library in the pack offers
// port-fallback binding, so this is a direct net.Listen retry loop.
func listenWithFallback(host string, port int) (net.Listener, string, error) {
	const maxAttempts = 20
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		addr := net.JoinHostPort(host, fmt.Sprintf("%d", port+i))
		listener, err := net.Listen("tcp", addr)
		if err == nil {
			return listener, addr, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, "", err
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("no free port found near %d: %w", port, lastErr)
}
