// Package notify performs the outbound push call against a Bark-compatible
// provider.
package notify

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	logx "quakepush/pkg/logx"
)

// Sender is the outbound push contract consumed by the dispatcher.
// One call is one attempt; retry policy lives with the caller.
type Sender interface {
	Send(ctx context.Context, targetID, title, subtitle, body string) error
}

// PermanentError marks a push rejection that will never succeed for this
// target: the key is gone or malformed. The dispatcher reacts by pruning
// the subscription.
type PermanentError struct {
	Code int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("push rejected permanently (HTTP %d)", e.Code)
}

// Status codes the provider returns for dead or malformed keys.
// Everything else non-2xx is considered retryable.
var permanentCodes = map[int]struct{}{
	http.StatusBadRequest:          {},
	http.StatusNotFound:            {},
	http.StatusInternalServerError: {},
}

type Config struct {
	BaseURL string
	// PoolSize caps idle connections kept to the provider; sized for
	// hundreds to low-thousands of concurrent pushes per event.
	PoolSize       int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Bark sends notifications over the Bark URL scheme:
//
//	{base}/{key}/{title}/{subtitle}/{body}?group=地震预警&level=critical&volume=5
//
// The literal query parameters are load-bearing for the provider and must
// not change.
type Bark struct {
	baseURL string
	client  *http.Client
	log     logx.Logger
}

func NewBark(cfg Config, log logx.Logger) *Bark {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 200
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 60 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	log.Info("push sender initialized",
		logx.String("base_url", cfg.BaseURL),
		logx.Int("pool_size", cfg.PoolSize))

	return &Bark{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		log: log,
	}
}

// Send performs exactly one push attempt.
func (b *Bark) Send(ctx context.Context, targetID, title, subtitle, body string) error {
	pushURL := fmt.Sprintf("%s/%s/%s/%s/%s?group=地震预警&level=critical&volume=5",
		b.baseURL,
		url.PathEscape(targetID),
		url.PathEscape(title),
		url.PathEscape(subtitle),
		url.PathEscape(body),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pushURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "EarthquakeAlert/1.0")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection returns to the pool.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		b.log.Debug("push delivered", logx.String("target", targetID))
		return nil
	}

	if _, permanent := permanentCodes[resp.StatusCode]; permanent {
		return &PermanentError{Code: resp.StatusCode}
	}
	return fmt.Errorf("push failed: HTTP %d", resp.StatusCode)
}
