package e2e

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

const (
	readinessTimeout      = 15 * time.Second
	readinessPollInterval = 100 * time.Millisecond
)

var errReadinessTimeout = errors.New("readiness timeout")

// waitForHTTPOK polls url until it answers 200, failing the test on timeout.
// Polling instead of sleeping keeps the daemon tests from racing startup.
func waitForHTTPOK(t *testing.T, url string) {
	t.Helper()
	client := &http.Client{Timeout: time.Second}
	defer client.CloseIdleConnections()

	err := pollReadiness(context.Background(), readinessTimeout, func() bool {
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})
	if err != nil {
		t.Fatalf("timed out waiting for %s after %s", url, readinessTimeout)
	}
}

func pollReadiness(ctx context.Context, timeout time.Duration, check func() bool) error {
	if timeout <= 0 {
		timeout = readinessTimeout
	}
	timeoutTimer := time.NewTimer(timeout)
	ticker := time.NewTicker(readinessPollInterval)
	defer timeoutTimer.Stop()
	defer ticker.Stop()

	for {
		if check() {
			return nil
		}
		select {
		case <-timeoutTimer.C:
			return errReadinessTimeout
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
