package genai

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryConfig contrôle les ré-essais des appels HTTP vers les services de génération
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// RetryStatuses liste les statuts ré-essayables en plus des 5xx
	RetryStatuses map[int]bool
}

// DefaultRetryConfig retourne une politique courte: les retries longs sont gérés par le job
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		RetryStatuses: map[int]bool{
			http.StatusTooManyRequests: true,
			http.StatusRequestTimeout:  true,
		},
	}
}

// doWithRetry exécute la requête construite par buildReq et retourne le corps d'une
// réponse 2xx. Une réponse non-2xx devient une *ServiceError.
func doWithRetry(
	ctx context.Context,
	client *http.Client,
	provider string,
	buildReq func(context.Context) (*http.Request, error),
	cfg RetryConfig,
) ([]byte, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		req, err := buildReq(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			if !isRetryableNetErr(err) || attempt == cfg.MaxAttempts {
				return nil, err
			}
			lastErr = err
			if err := sleepBackoff(ctx, attempt, cfg.BaseDelay, cfg.MaxDelay, 0); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := readAndClose(resp.Body)
		if readErr != nil {
			if !isRetryableNetErr(readErr) || attempt == cfg.MaxAttempts {
				return nil, readErr
			}
			lastErr = readErr
			if err := sleepBackoff(ctx, attempt, cfg.BaseDelay, cfg.MaxDelay, 0); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		serr := &ServiceError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
		if !isRetryableStatus(resp.StatusCode, cfg) || attempt == cfg.MaxAttempts {
			return nil, serr
		}
		lastErr = serr
		if err := sleepBackoff(ctx, attempt, cfg.BaseDelay, cfg.MaxDelay, parseRetryAfter(resp)); err != nil {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = errors.New(provider + ": request failed")
	}
	return nil, lastErr
}

func readAndClose(rc io.ReadCloser) ([]byte, error) {
	defer rc.Close()
	return io.ReadAll(rc)
}

func isRetryableStatus(code int, cfg RetryConfig) bool {
	if cfg.RetryStatuses[code] {
		return true
	}
	return code >= 500 && code <= 599
}

// sleepBackoff attend base*2^(attempt-1) plafonné à max, ou retryAfter si le serveur l'impose
func sleepBackoff(ctx context.Context, attempt int, base, max, retryAfter time.Duration) error {
	sleep := retryAfter
	if sleep <= 0 {
		sleep = Backoff(attempt, base, max)
		if sleep > 0 {
			sleep += time.Duration(rand.Int64N(int64(sleep)/4 + 1))
		}
	}
	if max > 0 && sleep > max {
		sleep = max
	}

	t := time.NewTimer(sleep)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff retourne le délai exponentiel de la tentative attempt (à partir de 1), plafonné à max
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

func isRetryableNetErr(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "eof")
}

// parseRetryAfter lit l'en-tête Retry-After (secondes ou date HTTP)
func parseRetryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
