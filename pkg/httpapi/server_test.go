package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gitlab.com/tinyland/lab/netpulse/pkg/quality"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testSample = quality.NewSpeedSample(10, 2_000_000, 5_000_000)

func startMonitor(t *testing.T) *quality.Monitor {
	t.Helper()
	prober := quality.NewMockProber(quality.WithSample(testSample))
	m := quality.New(prober, quality.Config{
		Coalescer:    quality.CoalescerConfig{Settle: 10 * time.Millisecond},
		ProbeTimeout: time.Second,
	}, quality.WithLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx, nil)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStatusEndpoint(t *testing.T) {
	m := startMonitor(t)
	srv := httptest.NewServer(New("", m, nil, discardLogger()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var snap quality.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Display != quality.TextInitializing {
		t.Errorf("Display = %q", snap.Display)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	m := startMonitor(t)
	srv := httptest.NewServer(New("", m, nil, discardLogger()).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	waitFor(t, 2*time.Second, "probe run", func() bool { return m.Stats().Runs == 1 })

	resp, err = http.Get(srv.URL + "/api/refresh")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/refresh status = %d, want 405", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer resp.Body.Close()
	var stats quality.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Triggers != 1 {
		t.Errorf("Triggers = %d, want 1", stats.Triggers)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := startMonitor(t)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "netpulse_up 1\n")
	})
	srv := httptest.NewServer(New("", m, metrics, discardLogger()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "netpulse_up 1") {
		t.Errorf("body = %q", body)
	}
}

func TestMetricsEndpointDisabled(t *testing.T) {
	m := startMonitor(t)
	srv := httptest.NewServer(New("", m, nil, discardLogger()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWebsocketPushesSnapshots(t *testing.T) {
	m := startMonitor(t)
	srv := httptest.NewServer(New("", m, nil, discardLogger()).Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var first quality.Snapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if first.State != quality.StateUnknown {
		t.Errorf("first State = %v, want unknown", first.State)
	}

	if err := m.UpdateConnectivity(context.Background(), quality.StateSatisfied); err != nil {
		t.Fatal(err)
	}
	for {
		var snap quality.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if snap.Sample != nil && *snap.Sample == testSample {
			if snap.Display != "10ms ↑1.9MB ↓4.8MB" {
				t.Errorf("Display = %q", snap.Display)
			}
			return
		}
	}
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	m := startMonitor(t)
	srv := httptest.NewServer(New("", m, nil, discardLogger()).Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("resp = %v, want 403", resp)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	m := startMonitor(t)
	s := New("127.0.0.1:0", m, nil, discardLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/api/status"
	waitFor(t, 2*time.Second, "server up", func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
