package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSolveRetriesAndSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("ocr busy"))
			return
		}
		_, _ = w.Write([]byte(`{"text":"ab12"}`))
	}))
	defer srv.Close()

	solver := NewHTTPSolver(srv.URL, 2*time.Second, 3, 5*time.Millisecond, 20*time.Millisecond)
	text, err := solver.Solve(context.Background(), []byte{0x89, 'P', 'N', 'G'})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if text != "ab12" {
		t.Fatalf("text = %q, want ab12", text)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestSolveFailsAfterMaxRetries(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	solver := NewHTTPSolver(srv.URL, 2*time.Second, 2, 5*time.Millisecond, 20*time.Millisecond)
	if _, err := solver.Solve(context.Background(), []byte("img")); err == nil {
		t.Fatal("expected failure, got nil")
	}
	if atomic.LoadInt32(&attempts) != 3 { // initial + 2 retries
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestSolveDoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("unsupported format"))
	}))
	defer srv.Close()

	solver := NewHTTPSolver(srv.URL, 2*time.Second, 3, 5*time.Millisecond, 20*time.Millisecond)
	if _, err := solver.Solve(context.Background(), []byte("img")); err == nil {
		t.Fatal("expected failure, got nil")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestSolvePlainTextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(" xy34 \n"))
	}))
	defer srv.Close()

	solver := NewHTTPSolver(srv.URL, time.Second, 0, 0, 0)
	text, err := solver.Solve(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("solve failed: %v", err)
	}
	if text != "xy34" {
		t.Fatalf("text = %q, want xy34", text)
	}
}

func TestSolveUnconfiguredEndpoint(t *testing.T) {
	solver := NewHTTPSolver("", time.Second, 0, 0, 0)
	if _, err := solver.Solve(context.Background(), []byte("img")); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
