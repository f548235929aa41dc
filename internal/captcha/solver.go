package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Solver turns a captcha image into a short text guess. Implementations may
// misrecognize; callers treat a wrong guess as an ordinary login failure.
// Implementations must be safe to share across clients.
type Solver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// SolverFunc adapts a function to the Solver interface.
type SolverFunc func(ctx context.Context, image []byte) (string, error)

func (f SolverFunc) Solve(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

// HTTPSolver posts the raw image to an OCR sidecar service and reads the
// recognized text back. Transient 5xx answers are retried with capped
// exponential backoff.
type HTTPSolver struct {
	endpoint   string
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
	httpClient *http.Client
}

func NewHTTPSolver(endpoint string, timeout time.Duration, maxRetries int, retryBase, retryMax time.Duration) *HTTPSolver {
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}
	if retryMax <= 0 {
		retryMax = 2 * time.Second
	}
	return &HTTPSolver{
		endpoint:   endpoint,
		maxRetries: maxRetries,
		retryBase:  retryBase,
		retryMax:   retryMax,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSolver) Solve(ctx context.Context, image []byte) (string, error) {
	if s.endpoint == "" {
		return "", fmt.Errorf("captcha: solver endpoint not configured")
	}

	var lastErr error
	delay := s.retryBase
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > s.retryMax {
				delay = s.retryMax
			}
		}
		text, retryable, err := s.solveOnce(ctx, image)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", fmt.Errorf("captcha: solver failed after %d attempts: %w", s.maxRetries+1, lastErr)
}

func (s *HTTPSolver) solveOnce(ctx context.Context, image []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(image))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, err
	}
	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("captcha: solver returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("captcha: solver returned %d: %s", resp.StatusCode, string(body))
	}

	// Sidecar answers either {"text":"..."} or the bare text.
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Text != "" {
		return strings.TrimSpace(parsed.Text), false, nil
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", false, fmt.Errorf("captcha: solver returned empty result")
	}
	return text, false, nil
}
