package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sairajesh711/mafia-room-core/internal/api"
	"github.com/sairajesh711/mafia-room-core/internal/auth"
	"github.com/sairajesh711/mafia-room-core/internal/config"
	"github.com/sairajesh711/mafia-room-core/internal/observability"
	"github.com/sairajesh711/mafia-room-core/internal/pubsub"
	"github.com/sairajesh711/mafia-room-core/internal/realtime"
	"github.com/sairajesh711/mafia-room-core/internal/room"
	"github.com/sairajesh711/mafia-room-core/internal/scheduler"
	"github.com/sairajesh711/mafia-room-core/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("warning: .env file not found")
	}

	cfg := config.Load()
	logger, err := observability.SetupLogger()
	if err != nil {
		log.Fatalf("cannot init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.SetupTracerProvider(ctx, "mafia-room-core", cfg.TraceStdout, logger)
	if err != nil {
		logger.Fatal("cannot init tracer", zap.Error(err))
	}
	defer tp.Shutdown(ctx)

	client, err := store.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	var st *store.Store
	if err != nil {
		logger.Warn("cannot connect to redis, falling back to IN-MEMORY MODE", zap.Error(err))
		st = store.NewMemoryStore()
	} else {
		st = store.New(client)
	}
	defer st.Close()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer.(*prometheus.Registry))
	tokens := auth.NewTokenManager(cfg.JWTSecret)

	var fanout *pubsub.Fanout
	if cfg.FanoutEnabled {
		fanout, err = pubsub.Connect(cfg.RabbitMQURL, observability.ZapToSlog(logger))
		if err != nil {
			logger.Warn("cannot connect to rabbitmq, cross-instance fanout disabled", zap.Error(err))
			fanout = nil
		} else {
			defer fanout.Close()
			logger.Info("snapshot fanout connected", zap.String("url", cfg.RabbitMQURL))
		}
	}

	instanceID := uuid.NewString()
	logger.Info("instance identity", zap.String("instance_id", instanceID))
	roomMgr := room.NewRoomManager(ctx, instanceID, st, fanout, logger, metrics)
	roomMgr.SetSnapshotInterval(cfg.SnapshotInterval)
	defer roomMgr.Close()

	if fanout != nil {
		go func() {
			err := fanout.Subscribe(ctx, func(msg pubsub.SnapshotMessage) {
				metrics.FanoutReceiveTotal.Inc()
				ra, err := roomMgr.GetOrCreate(ctx, msg.RoomID)
				if err != nil {
					return
				}
				ra.ApplyRemoteSnapshot(msg.State)
			})
			if err != nil {
				logger.Error("fanout subscribe failed", zap.Error(err))
			}
		}()
	}

	coords := newCoordinatorRegistry()
	roomMgr.SetOnRoomCreated(func(roomID string, ra *room.RoomActor) {
		coord := scheduler.NewCoordinator(roomID, ra, logger, metrics)
		ra.SetOnCommit(coord.Poke)
		coordCtx, coordCancel := context.WithCancel(ctx)
		coords.store(roomID, coordCancel)
		go func() {
			coord.Run(coordCtx)
			coords.delete(roomID)
		}()
	})

	wsServer := realtime.NewWSServer(tokens, st, roomMgr, logger, metrics)
	server := api.NewServer(wsServer, logger)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Router}
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	coords.cancelAll()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

// coordinatorRegistry tracks the cancel func for each room's scheduler
// goroutine so shutdown can stop them all without waiting on their own
// per-room completion logic.
type coordinatorRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newCoordinatorRegistry() *coordinatorRegistry {
	return &coordinatorRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *coordinatorRegistry) store(roomID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[roomID] = cancel
}

func (r *coordinatorRegistry) delete(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, roomID)
}

func (r *coordinatorRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.cancels {
		cancel()
	}
}
