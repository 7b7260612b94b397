package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"candlealert/internal/alert"
	"candlealert/internal/notify"
	"candlealert/pkg/binance"
	"candlealert/pkg/market"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// go test -v --run TestStreamObserver
func TestStreamObserver(t *testing.T) {
	m := New()
	h := NewHealthStatus()
	o := NewStreamObserver(m, h)

	o.Connected("wss://example")
	o.Accepted(market.Candle{Symbol: "BTCUSDT", Interval: "1h"})
	o.Accepted(market.Candle{Symbol: "BTCUSDT", Interval: "1h"})
	o.Dropped(fmt.Errorf("%w: missing k.c", binance.ErrMalformed))
	o.Dropped(errors.New("read tcp: reset"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSConnected))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StreamMessages.WithLabelValues("1h")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamDropped.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamDropped.WithLabelValues("other")))
	assert.True(t, h.WSConnected)
	assert.Equal(t, "BTCUSDT_1h", h.LastSeries)

	o.Disconnected(errors.New("eof"), time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.WSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSReconnects))
	assert.False(t, h.WSConnected)
}

// go test -v --run TestAlertObserver
func TestAlertObserver(t *testing.T) {
	m := New()
	h := NewHealthStatus()
	o := NewAlertObserver(m, h)

	o.Queued(alert.Candidate{Type: alert.TypeRSI})
	o.Sent(notify.Alert{Title: "2 alerts", CreatedAt: time.Unix(100, 0)}, 2)
	o.Discarded("hourly_limit", 3)
	o.DispatchFailed(errors.New("boom"))
	o.Pending(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsQueued.WithLabelValues(string(alert.TypeRSI))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsSent))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CandidatesSent))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.AlertsDiscarded.WithLabelValues("hourly_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchFailures))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PendingCandidates))
	assert.Equal(t, "2 alerts", h.LastTitle)
}

// go test -v --run TestHealthEndpoint
func TestHealthEndpoint(t *testing.T) {
	h := NewHealthStatus()
	srv := httptest.NewServer(NewMux(New(), h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	h.SetWSConnected(true)
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])

	h.CheckStore(context.Background(), func(context.Context) bool { return false })
	resp2, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

// go test -v --run TestStatusSections
func TestStatusSections(t *testing.T) {
	h := NewHealthStatus()
	h.AddSection("alerts_sent", func() interface{} { return 7 })
	srv := httptest.NewServer(NewMux(New(), h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 7.0, body["alerts_sent"])
	assert.Contains(t, body, "uptime")
	assert.Equal(t, false, body["ws_connected"])
}

// go test -v --run TestMetricsEndpoint
func TestMetricsEndpoint(t *testing.T) {
	m := New()
	m.AlertsSent.Inc()
	srv := httptest.NewServer(NewMux(m, NewHealthStatus()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "candlealert_alerts_sent_total 1")
}
