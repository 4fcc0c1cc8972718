package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"whisperd/internal/clock"
	"whisperd/internal/config"
	"whisperd/internal/notify"
	"whisperd/internal/scheduler"
	"whisperd/internal/server"
	"whisperd/internal/store"
	"whisperd/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the messaging server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	tasks := clock.NewTaskSet()
	hub := transport.NewHub(log, cfg.Origin)
	router := notify.NewRouter(hub, st, tasks, log)
	sched := scheduler.New(tasks, log)
	srv := server.New(ctx, st, router, sched, tasks, log)
	hub.SetHandler(srv)

	httpSrv := &http.Server{Addr: cfg.Addr, Handler: hub}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("db", cfg.DBPath).Msg("server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
		tasks.Shutdown()
		return nil
	})
	return g.Wait()
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var w io.Writer = os.Stderr
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
