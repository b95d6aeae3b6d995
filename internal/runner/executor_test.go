package runner

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/autonet/internal/domain"
)

// --- HTTPExecutor ---

func TestHTTPExecutor_GET(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("X-Device", "r1")
		json.NewEncoder(w).Encode(map[string]any{"hostname": "r1"})
	}))
	defer server.Close()

	result, err := (&HTTPExecutor{}).Execute(context.Background(), &Task{
		Payload: map[string]any{"url": server.URL},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected execution error: %s", result.Error)
	}

	if result.Outputs["status_code"] != http.StatusOK {
		t.Errorf("expected status 200, got %v", result.Outputs["status_code"])
	}
	headers := result.Outputs["headers"].(map[string]string)
	if headers["X-Device"] != "r1" {
		t.Errorf("expected X-Device header, got %v", headers)
	}
	body, ok := result.Outputs["body"].(map[string]any)
	if !ok || body["hostname"] != "r1" {
		t.Errorf("expected parsed JSON body, got %v", result.Outputs["body"])
	}
}

func TestHTTPExecutor_POSTBody(t *testing.T) {
	var received map[string]any
	var contentType, auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer server.Close()

	result, err := (&HTTPExecutor{}).Execute(context.Background(), &Task{
		Payload: map[string]any{
			"method":  "POST",
			"url":     server.URL,
			"body":    map[string]any{"vlan": 10},
			"headers": map[string]any{"Authorization": "Bearer t"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received["vlan"] != float64(10) {
		t.Errorf("server should receive body, got %v", received)
	}
	if contentType != "application/json" {
		t.Errorf("expected application/json, got %q", contentType)
	}
	if auth != "Bearer t" {
		t.Errorf("expected Authorization header, got %q", auth)
	}
	// Не-JSON ответ остаётся строкой
	if result.Outputs["body"] != "created" {
		t.Errorf("expected raw body, got %v", result.Outputs["body"])
	}
}

func TestHTTPExecutor_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("busy"))
	}))
	defer server.Close()

	result, err := (&HTTPExecutor{}).Execute(context.Background(), &Task{
		Payload: map[string]any{"url": server.URL},
	})
	if err != nil {
		t.Fatalf("HTTP errors are execution results, got error: %v", err)
	}
	if !strings.HasPrefix(result.Error, "HTTP 503") {
		t.Errorf("expected HTTP 503 error, got %q", result.Error)
	}
	if result.Outputs["status_code"] != http.StatusServiceUnavailable {
		t.Errorf("status_code should be kept for retry, got %v", result.Outputs["status_code"])
	}
}

func TestHTTPExecutor_DeviceURL(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	}))
	defer server.Close()

	u, _ := url.Parse(server.URL)
	host, port, _ := net.SplitHostPort(u.Host)

	task := &Task{
		Device: &domain.Device{Name: "r1", IPAddress: host},
		Payload: map[string]any{
			"scheme": "http",
			"port":   mustAtoi(t, port),
			"path":   "/restconf/data/interfaces",
		},
	}

	result, err := (&HTTPExecutor{}).Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected execution error: %s", result.Error)
	}
	if path != "/restconf/data/interfaces" {
		t.Errorf("expected device path, got %q", path)
	}
}

func TestHTTPExecutor_NoURL(t *testing.T) {
	_, err := (&HTTPExecutor{}).Execute(context.Background(), &Task{Payload: map[string]any{}})
	if !errors.Is(err, ErrHTTPRequest) {
		t.Errorf("expected ErrHTTPRequest, got %v", err)
	}
}

// --- DelayExecutor ---

func TestDelayExecutor(t *testing.T) {
	started := time.Now()
	result, err := (&DelayExecutor{}).Execute(context.Background(), &Task{
		Payload: map[string]any{"duration_sec": 0.05},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(started) < 50*time.Millisecond {
		t.Error("delay returned too early")
	}
	if result.Outputs["delayed_sec"] != 0.05 {
		t.Errorf("expected delayed_sec 0.05, got %v", result.Outputs["delayed_sec"])
	}
}

func TestDelayExecutor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&DelayExecutor{}).Execute(ctx, &Task{
		Payload: map[string]any{"duration_sec": 60},
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// --- TransformExecutor ---

func TestTransformExecutor(t *testing.T) {
	payload := map[string]any{"vlan": 10}
	result, err := (&TransformExecutor{}).Execute(context.Background(), &Task{
		Device:  &domain.Device{Name: "r1"},
		Payload: payload,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outputs["vlan"] != 10 || result.Outputs["device"] != "r1" {
		t.Errorf("unexpected outputs: %v", result.Outputs)
	}
	if _, ok := payload["device"]; ok {
		t.Error("payload must not be modified")
	}
}

// --- TCPCheckExecutor ---

func TestTCPCheckExecutor(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())

	task := &Task{
		Device:  &domain.Device{Name: "r1", IPAddress: "127.0.0.1"},
		Payload: map[string]any{"port": mustAtoi(t, port)},
	}

	// Порт открыт
	result, err := (&TCPCheckExecutor{}).Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "" {
		t.Errorf("expected reachable, got %q", result.Error)
	}

	// Порт закрыт
	ln.Close()
	result, err = (&TCPCheckExecutor{}).Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("closed port is an execution result, got error: %v", err)
	}
	if !strings.Contains(result.Error, "unreachable") {
		t.Errorf("expected unreachable, got %q", result.Error)
	}
}

func TestTCPCheckExecutor_NoAddress(t *testing.T) {
	_, err := (&TCPCheckExecutor{}).Execute(context.Background(), &Task{Payload: map[string]any{}})
	if !errors.Is(err, ErrNoAddress) {
		t.Errorf("expected ErrNoAddress, got %v", err)
	}
}

// --- Registry ---

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	for _, typ := range []string{"http", "delay", "transform", "tcp_check", "noop"} {
		if _, err := r.Get(typ); err != nil {
			t.Errorf("expected executor for %s: %v", typ, err)
		}
	}

	if _, err := r.Get("netconf"); !errors.Is(err, ErrUnknownJobType) {
		t.Errorf("expected ErrUnknownJobType, got %v", err)
	}

	r.Register("netconf", &NoopExecutor{})
	if _, err := r.Get("netconf"); err != nil {
		t.Errorf("registered executor not found: %v", err)
	}
}
