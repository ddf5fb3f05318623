package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	appcfg "github.com/kapu/arena-relay/internal/config"
	"github.com/kapu/arena-relay/internal/lobby"
	"github.com/kapu/arena-relay/internal/msgcat"
	"github.com/kapu/arena-relay/internal/obslog"
	"github.com/kapu/arena-relay/internal/persist"
	"github.com/kapu/arena-relay/internal/presence"
	"github.com/kapu/arena-relay/internal/room"
	"github.com/kapu/arena-relay/internal/transport"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	catalog, err := msgcat.New(cfg.MessageOverrideDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	recorder, cleanup := buildRecorder(cfg)
	defer cleanup()

	lobbyCh := lobby.NewChannel()
	registry := presence.NewRegistry(cfg.DisconnectGrace, lobbyCh)
	rooms := room.NewManager(registry, lobbyCh, catalog, recorder, room.Options{
		InactivityTTL: cfg.RoomInactivityTTL,
		SweepInterval: cfg.SweepInterval,
		MaxRooms:      cfg.MaxRooms,
	})
	router := transport.NewRouter(registry, lobbyCh, rooms)
	ws := transport.NewServer(cfg, router)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go rooms.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		obslog.L().Info("server_listen",
			zap.String("addr", cfg.ListenAddr),
			zap.Duration("disconnect_grace", cfg.DisconnectGrace),
			zap.Duration("room_ttl", cfg.RoomInactivityTTL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Error("server_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	obslog.L().Info("server_shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	registry.Close()
}

// buildRecorder picks the history sink: direct Postgres when DATABASE_URL
// is set, the HTTP bridge when PERSIST_BASE_URL is set, otherwise a nop.
// Either way the sink is wrapped in the async worker, with a Redis
// dead-letter queue when REDIS_URL is configured.
func buildRecorder(cfg *appcfg.AppConfig) (persist.Recorder, func()) {
	var sink persist.Recorder = persist.Nop{}
	var closers []func()

	switch {
	case cfg.DatabaseURL != "":
		pg, err := persist.NewPGRecorder(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres recorder init error: %v", err)
		}
		sink = pg
		closers = append(closers, func() { _ = pg.Close() })
	case cfg.PersistBaseURL != "":
		sink = persist.NewHTTPRecorder(cfg.PersistBaseURL)
	}

	var queue *persist.FailureQueue
	if cfg.RedisURL != "" {
		q, err := persist.NewFailureQueue(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failure queue init error: %v", err)
		}
		queue = q
		closers = append(closers, func() { _ = q.Close() })
	}

	async := persist.NewAsync(sink, queue, 256)
	cleanup := func() {
		async.Close()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return async, cleanup
}
