// cmd/gateway relays mdengine's Redis pub/sub channels (candles, analysis
// results and action queues) to WebSocket clients.
//
// Config (env vars):
//
//	GATEWAY_ADDR         listen address (default ":8081")
//	REDIS_ADDR           Redis address (default "localhost:6379")
//	REDIS_PASSWORD       Redis password
//	GATEWAY_PATTERNS     comma-separated channel patterns (default: candle, partial, analysis, actions)
//	GATEWAY_REPLAY_SIZE  envelopes kept per channel for gap backfill (default 500)
//	LOG_LEVEL            debug, info, warn or error (default info)
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"signalflow/internal/gateway"
	"signalflow/internal/logger"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	logger.Init("gateway", getEnv("LOG_LEVEL", "info"))

	addr := getEnv("GATEWAY_ADDR", ":8081")
	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	replaySize, err := strconv.Atoi(getEnv("GATEWAY_REPLAY_SIZE", "500"))
	if err != nil || replaySize <= 0 {
		log.Fatalf("[gateway] invalid GATEWAY_REPLAY_SIZE %q", os.Getenv("GATEWAY_REPLAY_SIZE"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("[gateway] redis connection failed: %v", err)
	}
	slog.Info("redis connected", "component", "gateway", "addr", redisAddr)

	hub := gateway.NewHub(rdb, gateway.Config{
		Patterns:   splitList(os.Getenv("GATEWAY_PATTERNS")),
		ReplaySize: replaySize,
	})
	hub.SetMetrics(gateway.NewMetrics(prometheus.DefaultRegisterer))
	go hub.Run(ctx)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			status = http.StatusServiceUnavailable
		}
		w.WriteHeader(status)
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		slog.Info("listening", "component", "gateway", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[gateway] server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "component", "gateway", "signal", sig.String())

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	srv.Shutdown(stopCtx)
	slog.Info("stopped", "component", "gateway")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
