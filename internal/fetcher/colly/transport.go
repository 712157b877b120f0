package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/pnrr-announcements/internal/metrics"
)

// School sites behind overloaded reverse proxies regularly stall the TLS
// handshake; a short retry here is cheaper than burning a whole variant.
var handshakeRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

type handshakeRetryTransport struct {
	base  http.RoundTripper
	sleep func(context.Context, time.Duration) error
}

func newHandshakeRetryTransport(base http.RoundTripper) *handshakeRetryTransport {
	return &handshakeRetryTransport{base: base, sleep: sleepWithContext}
}

func (t *handshakeRetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("retry transport received nil request")
	}
	if req.Body != nil && req.Body != http.NoBody {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("retry transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	maxAttempts := len(handshakeRetryBackoff) + 1
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isTransientTLSError(req.Context(), err) || attempt == maxAttempts-1 {
			break
		}
		metrics.ObserveTLSRetry(req.URL.Hostname())
		if err := t.sleep(req.Context(), handshakeRetryBackoff[attempt]); err != nil {
			return nil, fmt.Errorf("handshake retry backoff sleep: %w", err)
		}
	}
	return nil, fmt.Errorf("roundtrip %s: %w", req.URL.Redacted(), lastErr)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("handshake backoff sleep context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// isTransientTLSError reports handshake stalls. Errors caused by the request's
// own context expiring are never transient.
func isTransientTLSError(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if strings.Contains(err.Error(), "tls: handshake timeout") ||
		strings.Contains(err.Error(), "TLS handshake timeout") {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout() && strings.Contains(strings.ToLower(err.Error()), "tls")
}
