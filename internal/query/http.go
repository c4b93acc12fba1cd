package query

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"VaultEngine/internal/observability"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the query service as JSON over HTTP.
type HTTPServer struct {
	svc     *Service
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewHTTPServer(svc *Service, metrics *observability.Metrics, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{svc: svc, metrics: metrics, log: log}
}

// Register attaches all query routes to the given mux.
func (h *HTTPServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/nav", h.instrument("nav", h.handleNAV))
	mux.HandleFunc("/v1/pps", h.instrument("pps", h.handleSharePrice))
	mux.HandleFunc("/v1/shares", h.instrument("shares", h.handleShares))
	mux.HandleFunc("/v1/shares/total", h.instrument("supply", h.handleSupply))
	mux.HandleFunc("/v1/equity", h.instrument("equity", h.handleEquity))
	mux.HandleFunc("/v1/withdrawals/pending", h.instrument("withdrawals", h.handleWithdrawals))
	mux.HandleFunc("/v1/intents", h.instrument("intents", h.handleIntents))
	mux.HandleFunc("/v1/fees/quote", h.instrument("fee_quote", h.handleFeeQuote))
	mux.HandleFunc("/v1/status", h.instrument("status", h.handleStatus))
}

// instrument wraps a handler with request counting and latency timing.
func (h *HTTPServer) instrument(endpoint string, next func(w http.ResponseWriter, r *http.Request) int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := next(w, r)
		if h.metrics != nil {
			h.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
			h.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

func (h *HTTPServer) handleNAV(w http.ResponseWriter, r *http.Request) int {
	resp, err := h.svc.NAV()
	if err != nil {
		return h.writeError(w, http.StatusServiceUnavailable, err)
	}
	return writeJSON(w, resp)
}

func (h *HTTPServer) handleSharePrice(w http.ResponseWriter, r *http.Request) int {
	resp, err := h.svc.SharePrice()
	if err != nil {
		return h.writeError(w, http.StatusServiceUnavailable, err)
	}
	return writeJSON(w, resp)
}

func (h *HTTPServer) handleShares(w http.ResponseWriter, r *http.Request) int {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		return h.writeErrorMsg(w, http.StatusBadRequest, "missing owner parameter")
	}
	resp, err := h.svc.Shares(owner)
	if err != nil {
		return h.writeError(w, http.StatusServiceUnavailable, err)
	}
	return writeJSON(w, resp)
}

func (h *HTTPServer) handleSupply(w http.ResponseWriter, r *http.Request) int {
	return writeJSON(w, h.svc.Supply())
}

func (h *HTTPServer) handleEquity(w http.ResponseWriter, r *http.Request) int {
	resp, err := h.svc.Equity()
	if err != nil {
		return h.writeError(w, http.StatusServiceUnavailable, err)
	}
	return writeJSON(w, resp)
}

func (h *HTTPServer) handleWithdrawals(w http.ResponseWriter, r *http.Request) int {
	return writeJSON(w, h.svc.Withdrawals())
}

func (h *HTTPServer) handleIntents(w http.ResponseWriter, r *http.Request) int {
	return writeJSON(w, h.svc.Intents())
}

func (h *HTTPServer) handleFeeQuote(w http.ResponseWriter, r *http.Request) int {
	raw := r.URL.Query().Get("size_dollars")
	if raw == "" {
		return h.writeErrorMsg(w, http.StatusBadRequest, "missing size_dollars parameter")
	}
	sizeDollars, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || sizeDollars < 0 {
		return h.writeErrorMsg(w, http.StatusBadRequest, "invalid size_dollars")
	}
	return writeJSON(w, h.svc.FeeQuote(sizeDollars))
}

func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) int {
	return writeJSON(w, h.svc.Status())
}

func writeJSON(w http.ResponseWriter, v interface{}) int {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, err error) int {
	h.log.Warn().Err(err).Msg("query failed")
	return h.writeErrorMsg(w, status, err.Error())
}

func (h *HTTPServer) writeErrorMsg(w http.ResponseWriter, status int, msg string) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
	return status
}
