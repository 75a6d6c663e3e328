package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"stream_broker/internal/broker"
	"stream_broker/internal/config"
	"stream_broker/internal/handlers"
	"stream_broker/internal/metrics"
	"stream_broker/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---------- config ----------
	cfg := config.Load()

	// ---------- metrics ----------
	metrics.Register()

	// ---------- store ----------
	st := store.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer st.Close()

	if err := st.WaitReady(ctx, cfg.ReadyTimeout); err != nil {
		log.Fatal("store:", err)
	}

	// ---------- subscriber ----------
	sub, err := broker.NewSubscriber(ctx, st, broker.SubscriberConfig{
		Channels:     cfg.Channels,
		Group:        cfg.Group,
		Consumer:     cfg.Consumer,
		AckTimeout:   cfg.AckTimeout,
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		Retries:      cfg.Retries,
		Handler: func(_ context.Context, msg *broker.Message) error {
			log.Printf("handled channel=%s id=%s action=%s", msg.Channel, msg.ID, msg.Action)
			return nil
		},
		OnError: func(err error, channel string, msg *broker.Message) {
			id := ""
			if msg != nil {
				id = msg.ID
			}
			log.Printf("delivery error channel=%s id=%s: %v", channel, id, err)
		},
	})
	if err != nil {
		log.Fatal("subscriber:", err)
	}

	sub.Start(ctx)

	// ---------- reprocessor ----------
	rp, err := broker.NewReprocessor(st, cfg.MaxLen, log.Default())
	if err != nil {
		log.Fatal("reprocessor:", err)
	}

	// ---------- stream gauges ----------
	metrics.StartStreamCollector(ctx, st, cfg.Channels, cfg.Group, cfg.CollectInterval, log.Default())

	// ---------- router ----------
	r := chi.NewRouter()
	r.Use(metrics.HTTPMiddleware)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := st.Ready(req.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	handlers.RegisterRejectedRoutes(r, handlers.NewRejectedHandler(rp))

	// ---------- start server ----------
	addr := ":" + cfg.HTTPPort
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		log.Println("server starting on", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()

	// ---------- shutdown ----------
	log.Println("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Drain+10*time.Second)
	defer shutdownCancel()

	if _, err := sub.Unsubscribe(shutdownCtx, cfg.Drain); err != nil {
		log.Println("unsubscribe:", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("http shutdown:", err)
	}
}
