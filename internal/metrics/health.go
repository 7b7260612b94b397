package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"candlealert/pkg/market"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthStatus tracks liveness of the pipeline parts.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected bool
	LastCandle  time.Time
	LastSeries  string
	LastAlert   time.Time
	LastTitle   string
	StoreOK     bool
	LastCheckAt time.Time
	StartedAt   time.Time

	sections map[string]func() interface{}
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StoreOK:   true,
		StartedAt: time.Now(),
		sections:  make(map[string]func() interface{}),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandle(t time.Time, c market.Candle) {
	h.mu.Lock()
	h.LastCandle = t
	h.LastSeries = c.Key()
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastAlert(t time.Time, title string) {
	h.mu.Lock()
	h.LastAlert = t
	h.LastTitle = title
	h.mu.Unlock()
}

// AddSection exposes fn's result under name in /status.
func (h *HealthStatus) AddSection(name string, fn func() interface{}) {
	h.mu.Lock()
	h.sections[name] = fn
	h.mu.Unlock()
}

// CheckStore records the result of a storage probe.
func (h *HealthStatus) CheckStore(ctx context.Context, probe func(context.Context) bool) {
	ok := probe(ctx)
	h.mu.Lock()
	h.StoreOK = ok
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes storage every interval until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, probe func(context.Context) bool, interval time.Duration) {
	if probe == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.CheckStore(probeCtx, probe)
				cancel()
			}
		}
	}()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ServeHealth answers 200 while the stream is up and storage answers, 503 otherwise.
func (h *HealthStatus) ServeHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	status := "healthy"
	code := http.StatusOK
	if !h.WSConnected || !h.StoreOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	body := struct {
		Status      string `json:"status"`
		WSConnected bool   `json:"ws_connected"`
		StoreOK     bool   `json:"store_ok"`
		LastCandle  string `json:"last_candle"`
	}{
		Status:      status,
		WSConnected: h.WSConnected,
		StoreOK:     h.StoreOK,
		LastCandle:  formatTime(h.LastCandle),
	}
	h.mu.RUnlock()

	writeJSON(w, code, body)
}

// ServeStatus reports uptime, last activity and every registered section.
func (h *HealthStatus) ServeStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	body := map[string]interface{}{
		"uptime":       time.Since(h.StartedAt).Round(time.Second).String(),
		"started_at":   formatTime(h.StartedAt),
		"ws_connected": h.WSConnected,
		"store_ok":     h.StoreOK,
		"last_candle":  formatTime(h.LastCandle),
		"last_series":  h.LastSeries,
		"last_alert":   formatTime(h.LastAlert),
		"last_title":   h.LastTitle,
	}
	sections := make(map[string]func() interface{}, len(h.sections))
	for k, fn := range h.sections {
		sections[k] = fn
	}
	h.mu.RUnlock()

	for name, fn := range sections {
		body[name] = fn()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Server exposes /metrics, /health and /status.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(addr string, m *Metrics, health *HealthStatus, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewMux(m, health),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func NewMux(m *Metrics, health *HealthStatus) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", health.ServeHealth)
	mux.HandleFunc("/status", health.ServeStatus)
	return mux
}

// Start serves in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Health server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Health server failed", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
