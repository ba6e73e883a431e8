package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes mounts the relay endpoints on mux.
//
//	GET /ws                                  WebSocket stream
//	GET /api/latest                          latest payload per channel
//	GET /api/missed?channel=&from=&to=       buffered envelopes for gap backfill
//	GET /api/stats                           clients and relay lag
//	GET /metrics                             Prometheus
func RegisterRoutes(mux *http.ServeMux, h *Hub) {
	mux.HandleFunc("/ws", h.ServeWS)

	mux.HandleFunc("/api/latest", func(w http.ResponseWriter, r *http.Request) {
		latest := h.Latest()
		out := make(map[string]json.RawMessage, len(latest))
		for k, v := range latest {
			out[k] = v
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		channel := q.Get("channel")
		from, errFrom := strconv.ParseInt(q.Get("from"), 10, 64)
		to, errTo := strconv.ParseInt(q.Get("to"), 10, 64)
		if channel == "" || errFrom != nil || errTo != nil || to < from {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "channel, from and to are required"})
			return
		}
		envs := h.ReplayRange(channel, from, to)
		out := make([]json.RawMessage, len(envs))
		for i, env := range envs {
			out[i] = env
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"channel":  channel,
			"current":  h.ChannelSeq(channel),
			"messages": out,
		})
	})

	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"clients":      h.ClientCount(),
			"analysis_lag": h.Lag().Stats(),
		})
	})

	mux.Handle("/metrics", promhttp.Handler())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
