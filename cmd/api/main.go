package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"voicebridge/internal/auth"
	"voicebridge/internal/calls"
	"voicebridge/internal/config"
	"voicebridge/internal/httpapi"
	"voicebridge/internal/media"
	"voicebridge/internal/metrics"
	"voicebridge/internal/notify"
	"voicebridge/internal/presence"
	"voicebridge/internal/realtime"
	"voicebridge/pkg/logger"
	"voicebridge/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	hub := realtime.NewHub(log)
	defer hub.Close()

	// Push channels are optional; a missing provider just means the party is
	// unreachable on that channel.
	var senders []notify.Sender
	if cfg.Push.FirebaseCredentialsJSON != "" {
		fcm, err := notify.NewFCMSender(rootCtx, cfg.Push.FirebaseCredentialsJSON, log)
		if err != nil {
			log.Error("fcm init failed", "err", err)
			os.Exit(1)
		}
		senders = append(senders, fcm)
	}
	if cfg.Push.VAPIDPublicKey != "" {
		senders = append(senders, notify.NewWebPushSender(cfg.Push, log))
	}
	fanout := notify.NewFanout(notify.NewPostgresTargetStore(db), m, log, senders...)

	registry := presence.NewRegistry(
		presence.NewRedisStore(rdb, 0),
		presence.NewPostgresTenantResolver(db),
		hub,
		log,
	)

	coordinator := calls.NewCoordinator(
		calls.CoordinatorConfig{
			RingTimeout:  cfg.Calls.RingTimeout,
			HistoryLimit: cfg.Calls.HistoryLimit,
		},
		calls.NewPostgresRepo(db),
		media.NewGatekeeper(cfg.LiveKit, log),
		hub,
		fanout,
		registry,
		calls.NewPostgresDirectory(db),
		m,
		log,
	)

	handlers := httpapi.Handlers{
		Coordinator: coordinator,
		Registry:    registry,
		Hub:         hub,
		Metrics:     m,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, registerDeps{
		handlers: handlers,
		authMW:   auth.RequireAccessToken(authManager),
		db:       db,
		metrics:  reg,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
