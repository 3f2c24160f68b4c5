package net

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"echo-maze/server"
	"echo-maze/server/internal/sim"
)

func newTestHub(t *testing.T) *server.Hub {
	t.Helper()
	seed := sim.Seed{
		Zones: []sim.Zone{{ID: "pillar", Label: "pillar", X: 4, Z: -3, Radius: 2}},
		Walls: []sim.Wall{{ID: "screen", X: 0, Z: -6, Width: 6, Height: 1}},
		Emitters: []sim.Emitter{
			{ID: "beacon", Name: "beacon", X: 0, Z: -10, Y: 1.2, Frequency: 440, Gain: 0.8, Waveform: sim.WaveformSine},
		},
		Modes: sim.Modes{ListenerMotion: true, EmitterMotion: true},
	}
	return server.NewHub(server.DefaultConfig(), seed, nil, nil)
}

func TestHealthEndpoint(t *testing.T) {
	handler := NewHTTPHandler(newTestHub(t), HTTPHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if body := resp.Body.String(); body != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", body)
	}
}

func TestJoinEndpointMintsClient(t *testing.T) {
	handler := NewHTTPHandler(newTestHub(t), HTTPHandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/join", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if contentType := resp.Header().Get("Content-Type"); contentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", contentType)
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode join payload: %v", err)
	}
	if got := payload["id"]; got != "client-1" {
		t.Fatalf("expected id client-1, got %v", got)
	}
	if got := payload["ver"]; got != float64(server.ProtocolVersion) {
		t.Fatalf("expected ver %d, got %v", server.ProtocolVersion, got)
	}
	if got := payload["worldRadius"]; got != float64(sim.WorldRadius) {
		t.Fatalf("expected worldRadius %v, got %v", sim.WorldRadius, got)
	}

	state, ok := payload["state"].(map[string]any)
	if !ok {
		t.Fatalf("expected state object, got %T", payload["state"])
	}
	if got := state["type"]; got != "state" {
		t.Fatalf("expected state type %q, got %v", "state", got)
	}
	zones, ok := state["zones"].([]any)
	if !ok || len(zones) != 1 {
		t.Fatalf("expected 1 zone in state, got %v", state["zones"])
	}
}

func TestJoinEndpointRejectsGet(t *testing.T) {
	handler := NewHTTPHandler(newTestHub(t), HTTPHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/join", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", resp.Code)
	}
}

func TestDiagnosticsEndpointReportsClients(t *testing.T) {
	hub := newTestHub(t)
	handler := NewHTTPHandler(hub, HTTPHandlerConfig{})

	join := hub.Join()
	if join.ID == "" {
		t.Fatalf("expected join to mint a client id")
	}

	req := httptest.NewRequest(http.MethodGet, "/diagnostics", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode diagnostics payload: %v", err)
	}
	if got := payload["status"]; got != "ok" {
		t.Fatalf("expected status ok, got %v", got)
	}
	if got := payload["tickRate"]; got != float64(hub.TickRate()) {
		t.Fatalf("expected tickRate %d, got %v", hub.TickRate(), got)
	}
	if got := payload["heartbeatMillis"]; got != float64(server.HeartbeatInterval().Milliseconds()) {
		t.Fatalf("expected heartbeatMillis %d, got %v", server.HeartbeatInterval().Milliseconds(), got)
	}

	clients, ok := payload["clients"].([]any)
	if !ok || len(clients) != 1 {
		t.Fatalf("expected 1 diagnostics client, got %v", payload["clients"])
	}
	client, ok := clients[0].(map[string]any)
	if !ok {
		t.Fatalf("expected client object, got %T", clients[0])
	}
	if got := client["id"]; got != join.ID {
		t.Fatalf("expected client id %q, got %v", join.ID, got)
	}

	audio, ok := payload["audio"].(map[string]any)
	if !ok {
		t.Fatalf("expected audio object, got %T", payload["audio"])
	}
	if got := audio["status"]; got != "idle" {
		t.Fatalf("expected audio status idle, got %v", got)
	}

	telemetry, ok := payload["telemetry"].(map[string]any)
	if !ok {
		t.Fatalf("expected telemetry object, got %T", payload["telemetry"])
	}
	if _, ok := telemetry["tickBudget"]; !ok {
		t.Fatalf("expected telemetry to include tickBudget, got %v", telemetry)
	}
}

func TestWebsocketRejectsMissingID(t *testing.T) {
	handler := NewHTTPHandler(newTestHub(t), HTTPHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "missing id") {
		t.Fatalf("expected missing id error, got %q", resp.Body.String())
	}
}

func TestClientDirServesStaticFiles(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "index.html")
	if err := os.WriteFile(page, []byte("<html>echo maze</html>"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	handler := NewHTTPHandler(newTestHub(t), HTTPHandlerConfig{ClientDir: dir})

	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "echo maze") {
		t.Fatalf("expected fixture body, got %q", resp.Body.String())
	}
}
