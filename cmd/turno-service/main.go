package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"turnero/turno-service/internal/broadcast"
	"turnero/turno-service/internal/config"
	"turnero/turno-service/internal/httpapi"
	"turnero/turno-service/internal/hub"
	"turnero/turno-service/internal/store/postgres"
	"turnero/turno-service/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("turno-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	h := hub.New()
	handler := httpapi.NewHandler(st, httpapi.Options{
		ClinicQueueLimit: cfg.ClinicQueueLimit,
		GlobalQueueLimit: cfg.GlobalQueueLimit,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		ClinicPerMinute: cfg.ClinicRatePerMinute,
		ClinicBurst:     cfg.ClinicRateBurst,
	})

	sockjsHandler := sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			if parsed, ok := hub.ParseSubscribe([]byte(msg)); ok {
				if parsed.Action == "unsubscribe" {
					h.UpdateSubscription(client, hub.Subscription{})
				} else {
					h.UpdateSubscription(client, hub.Subscription{ClinicID: parsed.ClinicID})
				}
				continue
			}
			if !cfg.BridgeEnabled {
				continue
			}
			env, ok := hub.ParseBridgeEvent([]byte(msg))
			if !ok {
				continue
			}
			frame, err := json.Marshal(env)
			if err != nil {
				continue
			}
			h.Rebroadcast(frame, hub.ClinicIDFromPayload(env.Payload), client.ID)
		}
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", sockjsHandler)
	mux.Handle("/", httpapi.AuthMiddleware(st, handler.Routes()))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "turno-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	publisherCtx, stopPublisher := context.WithCancel(context.Background())
	defer stopPublisher()
	publisher := broadcast.NewPublisher(st, h, broadcast.Config{
		Interval:  cfg.PollInterval,
		BatchSize: cfg.PollBatchSize,
		Retention: cfg.OutboxRetention,
	})
	go publisher.Run(publisherCtx)

	go func() {
		log.Printf("turno-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopPublisher()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
