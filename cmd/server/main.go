package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/archive"
	"github.com/Tyrowin/gochat-relay/internal/directory"
	"github.com/Tyrowin/gochat-relay/internal/history"
	"github.com/Tyrowin/gochat-relay/internal/hub"
	"github.com/Tyrowin/gochat-relay/internal/metrics"
	"github.com/Tyrowin/gochat-relay/internal/relay"
	"github.com/Tyrowin/gochat-relay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	tcpAddr := flag.String("tcp", "", "TCP listen address (overrides config)")
	httpAddr := flag.String("http", "", "HTTP listen address (overrides config)")
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *tcpAddr != "" {
		cfg.TCPAddr = *tcpAddr
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Log.SlogLevel())
	slog.SetDefault(slog.New(newHandler(cfg.Log.Format, level)))

	if err := run(cfg, *configPath, level); err != nil {
		slog.Error("relay stopped", "err", err)
		os.Exit(1)
	}
}

func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.NewJSONHandler(os.Stderr, opts)
}

func run(cfg *server.Config, configPath string, level *slog.LevelVar) error {
	server.SetConfig(cfg)
	active := server.CurrentConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.New(hub.WithQueueSize(active.Hub.QueueSize))
	buf, err := history.New(active.History.Capacity, h)
	if err != nil {
		return err
	}
	relaySrv := relay.NewServer(buf, active.RelayOptions(), slog.Default())
	users := directory.New()
	msgs := archive.New()
	gatherer := metrics.New(h, relaySrv, buf)

	tcpLn, err := relay.Listen(active.TCPAddr)
	if err != nil {
		return err
	}
	httpLn, err := relay.Listen(active.HTTPAddr)
	if err != nil {
		tcpLn.Close()
		return err
	}

	mux := server.SetupRoutes(server.Dependencies{
		Relay:     relaySrv,
		Directory: users,
		Archive:   msgs,
		Metrics:   gatherer,
	})
	httpSrv := server.CreateServer(active.HTTPAddr, server.WithCORS(mux))

	var wg sync.WaitGroup
	errc := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		errc <- relaySrv.Serve(ctx, tcpLn)
	}()
	go func() {
		defer wg.Done()
		errc <- server.StartServer(httpSrv, httpLn)
	}()

	if configPath != "" {
		go func() {
			err := server.WatchConfig(ctx, configPath, func(next *server.Config) {
				server.SetConfig(next)
				applied := server.CurrentConfig()
				relaySrv.SetOptions(applied.RelayOptions())
				level.Set(applied.Log.SlogLevel())
			})
			if err != nil {
				slog.Warn("config watch disabled", "path", configPath, "err", err)
			}
		}()
	}

	slog.Info("relay started", "tcp", tcpLn.Addr().String(), "http", httpLn.Addr().String())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
		stop()
	}

	slog.Info("shutting down")
	var errs []error
	if err := server.ShutdownServer(httpSrv, shutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	if err := relaySrv.Shutdown(shutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("relay shutdown: %w", err))
	}
	h.Close()
	wg.Wait()

	if runErr != nil {
		errs = append(errs, runErr)
	}
	return errors.Join(errs...)
}
