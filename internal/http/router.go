package httpx

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kdwycz/certimate-webhook/internal/domain"
	syncsvc "github.com/kdwycz/certimate-webhook/internal/service/sync"
	"github.com/kdwycz/certimate-webhook/internal/ws"
)

const (
	rateWindowWebhook = time.Minute
	maxWebhookBody    = 1 << 20
)

// Router wires HTTP endpoints to the sync orchestrator.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	sync     *syncsvc.Service
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter

	webhookSecret string
	webhookLimit  int

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies. webhookPath is the
// configured opaque path segment, registered without leading slash.
func NewRouter(logger *slog.Logger, syncSvc *syncsvc.Service, hub *ws.Hub, limiter RateLimiter, webhookPath, webhookSecret string, webhookLimit int) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		sync:   syncSvc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:       limiter,
		webhookSecret: strings.TrimSpace(webhookSecret),
		webhookLimit:  webhookLimit,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register(strings.Trim(webhookPath, "/"))
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register(webhookPath string) {
	r.mux.HandleFunc("/", r.audit("root", r.handleRoot))
	r.mux.HandleFunc("/health", r.audit("health", r.handleHealth))
	if webhookPath != "" {
		r.mux.HandleFunc("/"+webhookPath, r.audit("webhook", r.withRateLimit("webhook", r.webhookLimit, rateWindowWebhook, r.handleWebhook)))
	} else {
		r.logger.Error("webhook path is empty, webhook route not registered")
	}
	r.mux.HandleFunc("/api/jobs", r.audit("jobs", r.handleJobs))
	r.mux.HandleFunc("/ws/outcomes", r.audit("ws_outcomes", r.handleOutcomesWS))
	r.mux.Handle("/metrics", promhttp.Handler())
}

// handleRoot rejects probes against the bare root. The webhook path is
// the only write surface and is deliberately not discoverable.
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		r.notFound(w)
		return
	}
	writeError(w, http.StatusForbidden, "forbidden")
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "certimate-webhook",
	})
}

func (r *Router) handleWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if r.webhookSecret != "" {
		signature := req.Header.Get("X-Webhook-Signature")
		if err := checkSignature(body, []byte(r.webhookSecret), signature); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	job, err := r.sync.Trigger(body)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMalformedRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrUnknownDomain):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, domain.ErrDomainBusy):
			writeError(w, http.StatusConflict, err.Error())
		default:
			r.logger.Error("webhook dispatch failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":        "accepted",
		"job_id":        job.ID,
		"domain":        job.Domain,
		"server_groups": job.GroupNames,
	})
}

func (r *Router) handleJobs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	jobs := r.sync.Jobs(req.URL.Query().Get("domain"))
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (r *Router) handleOutcomesWS(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		r.notFound(w)
		return
	}
	dom := domain.NormalizeDomain(req.URL.Query().Get("domain"))
	if dom == "" {
		writeError(w, http.StatusBadRequest, "domain query parameter is required")
		return
	}
	if !r.sync.HasDomain(dom) {
		r.notFound(w)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(dom, client)
	go func() {
		defer r.hub.Unregister(dom, client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// checkSignature verifies an HMAC-SHA256 hex signature over the body.
func checkSignature(payload, secret []byte, provided string) error {
	if provided == "" {
		return errors.New("missing webhook signature")
	}
	hasher := hmac.New(sha256.New, secret)
	hasher.Write(payload)
	expected := hex.EncodeToString(hasher.Sum(nil))
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return errors.New("invalid webhook signature")
	}
	return nil
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// audit logs one structured record per request and feeds the request
// metrics, keyed by a stable route label rather than the raw path.
func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"route", route,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
		r.recordRequestMetrics(req.Method, route, status, duration)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection through
// the audit recorder.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
