// Package api_test provides tests for the read-only operational API server.
package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/api"
	"github.com/atlas-desktop/trading-backend/internal/events"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type stubSnapshotter struct {
	state types.SystemState
}

func (s stubSnapshotter) Snapshot() types.SystemState { return s.state }

func setupTestServer(t *testing.T) (*api.Server, *httptest.Server, *events.Bus) {
	t.Helper()
	logger := zap.NewNop()
	bus := events.NewBus(logger, events.DefaultBusConfig())
	bus.Start(context.Background())
	t.Cleanup(bus.Stop)

	state := *types.NewSystemState(decimal.NewFromInt(10000))
	server := api.NewServer(logger, api.Config{Host: "localhost", Port: 0}, stubSnapshotter{state: state}, bus)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return server, ts, bus
}

func TestHealthzEndpoint(t *testing.T) {
	_, ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", result["status"])
	}
}

func TestStatusEndpointReturnsSnapshot(t *testing.T) {
	_, ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var state types.SystemState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if state.Status != types.StatusRunning {
		t.Errorf("expected status RUNNING, got %s", state.Status)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	_, ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestWebSocketBroadcastsStatusEvent(t *testing.T) {
	_, ts, bus := setupTestServer(t)

	wsURL := "ws" + ts.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	// The dial returns before the server side finishes registering the
	// client with the hub; give registration a moment before publishing.
	time.Sleep(100 * time.Millisecond)
	bus.Publish(events.NewStatusEvent(string(types.StatusRunning), string(types.StatusDegraded), "test transition"))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read websocket message: %v", err)
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		t.Fatalf("failed to decode broadcast envelope: %v", err)
	}
	if envelope.Type != string(api.MsgTypeStatus) {
		t.Errorf("expected message type %q, got %q", api.MsgTypeStatus, envelope.Type)
	}
}
