package redarchlog

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestLogger_DeliversSynchronously(t *testing.T) {
	srv := &capture{statuses: []int{200}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	log, err := NewLogger(testConfig(ts.URL, t.TempDir()))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	if err := log.Info(context.Background(), "checkout started"); err != nil {
		t.Fatalf("Info: %v", err)
	}
	// Synchronous: by the time the call returns the endpoint has the event.
	if got := srv.delivered(); len(got) != 1 || got[0] != "checkout started" {
		t.Errorf("delivered = %v", got)
	}
}

func TestLogger_ReturnsDeliveryError(t *testing.T) {
	srv := &capture{statuses: []int{500}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	log, err := NewLogger(testConfig(ts.URL, t.TempDir()))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	if err := log.Error(context.Background(), "payment failed"); err == nil {
		t.Fatal("Error returned nil against a failing endpoint")
	}
}

func TestLogger_HonoursContext(t *testing.T) {
	srv := &capture{statuses: []int{200}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	log, err := NewLogger(testConfig(ts.URL, t.TempDir()))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := log.Warn(ctx, "never sent"); err == nil {
		t.Fatal("Warn with cancelled context returned nil")
	}
}

func TestLogger_LevelGate(t *testing.T) {
	srv := &capture{statuses: []int{200}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	cfg := testConfig(ts.URL, t.TempDir())
	cfg.Level = "WARN"
	log, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	if err := log.Debug(context.Background(), "chatty"); err != nil {
		t.Fatalf("Debug below level: %v", err)
	}
	if got := srv.callCount(); got != 0 {
		t.Errorf("endpoint saw %d requests for a below-level event, want 0", got)
	}

	if err := log.Fatal(context.Background(), "kept"); err != nil {
		t.Fatalf("Fatal: %v", err)
	}
	if got := srv.delivered(); len(got) != 1 || got[0] != "kept" {
		t.Errorf("delivered = %v", got)
	}
}
