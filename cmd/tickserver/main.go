// cmd/tickserver is a simulated market hub for running mdengine without a
// broker connection. It speaks the same websocket protocol as the live hub:
// clients send {"action":"subscribe","contractId":...} and receive
// GatewayTrade and GatewayQuote frames for that contract.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	TICK_CONTRACTS    comma-separated contract codes (default: every known contract)
//	TICK_INTERVAL_MS  trade interval per contract in milliseconds (default 250)
//	LOG_LEVEL         debug, info, warn or error (default info)
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"signalflow/internal/logger"
	"signalflow/internal/model"
)

// Starting prices per symbol root.
var startPrices = map[string]float64{
	"MGC": 2650,
	"GC":  2650,
	"MNQ": 21000,
	"NQ":  21000,
	"6B":  1.27,
	"6C":  0.72,
	"CL":  70,
	"HG":  4.2,
}

func main() {
	logger.Init("tickserver", getEnv("LOG_LEVEL", "info"))

	addr := getEnv("TICK_SERVER_ADDR", ":9001")
	intervalMs, err := strconv.Atoi(getEnv("TICK_INTERVAL_MS", "250"))
	if err != nil || intervalMs <= 0 {
		log.Fatalf("[tickserver] invalid TICK_INTERVAL_MS %q", os.Getenv("TICK_INTERVAL_MS"))
	}

	instruments := parseInstruments(os.Getenv("TICK_CONTRACTS"))
	if len(instruments) == 0 {
		log.Fatalf("[tickserver] no contracts configured via TICK_CONTRACTS")
	}
	for _, in := range instruments {
		slog.Info("simulating", "component", "tickserver", "contract", in.contract.Code, "id", in.contract.ID, "start", in.price.String())
	}

	h := newHub()
	stop := make(chan struct{})
	go runGenerator(h, instruments, time.Duration(intervalMs)*time.Millisecond, stop)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		slog.Info("listening", "component", "tickserver", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[tickserver] server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	close(stop)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	slog.Info("stopped", "component", "tickserver")
}

// parseInstruments resolves codes against the contract registry. Empty
// input simulates every known contract; unknown codes are skipped.
func parseInstruments(s string) []*instrument {
	var contracts []model.Contract
	if strings.TrimSpace(s) == "" {
		contracts = model.Contracts
	} else {
		for _, code := range strings.Split(s, ",") {
			code = strings.TrimSpace(code)
			if code == "" {
				continue
			}
			c, ok := model.ResolveContract(code)
			if !ok || c.TickSize == 0 {
				slog.Warn("unknown contract, skipping", "component", "tickserver", "code", code)
				continue
			}
			contracts = append(contracts, c)
		}
	}

	out := make([]*instrument, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, newInstrument(c, startPrice(c.Code)))
	}
	return out
}

// startPrice matches the longest known root prefix of code.
func startPrice(code string) float64 {
	best, price := 0, 100.0
	for root, p := range startPrices {
		if strings.HasPrefix(code, root) && len(root) > best {
			best, price = len(root), p
		}
	}
	return price
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
