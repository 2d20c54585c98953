package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maisonverte/api/internal/platform/httpx"
)

const (
	// KeyHeader carries the client-chosen idempotency key.
	KeyHeader = "Idempotency-Key"
	// ReplayHeader marks a response served from the store.
	ReplayHeader = "X-Idempotent-Replay"
)

type middlewareConfig struct {
	header string
	ttl    time.Duration
	clock  func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// MiddlewareOption customises the middleware.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(c *middlewareConfig) {
		if name != "" {
			c.header = name
		}
	}
}

// WithTTL sets how long stored responses remain replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(c *middlewareConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects a custom clock, primarily for tests.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(c *middlewareConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the event logger.
func WithLogger(logger func(ctx context.Context, event string, fields map[string]any)) MiddlewareOption {
	return func(c *middlewareConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Middleware makes the wrapped route safe to retry. It is mounted on the
// order creation endpoint only, so every request passing through it must
// carry a key. The first request with a key executes and has its response
// stored; later requests with the same key and payload replay that response
// instead of creating a second order.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{
		header: KeyHeader,
		ttl:    DefaultTTL,
		clock:  time.Now,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			key := strings.TrimSpace(r.Header.Get(cfg.header))
			if key == "" {
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_missing",
					cfg.header+" header is required", http.StatusBadRequest))
				return
			}

			fingerprint, err := requestFingerprint(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body",
					"unable to read request body", http.StatusBadRequest))
				return
			}

			now := cfg.clock().UTC()
			claim, err := store.Claim(ctx, key, fingerprint, now, cfg.ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused",
					"idempotency key was already used with a different request", http.StatusConflict))
				return
			case err != nil:
				cfg.logger(ctx, "idempotency.claim.failed", map[string]any{"error": err.Error()})
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable",
					"idempotency storage error", http.StatusServiceUnavailable))
				return
			case claim.Replay:
				cfg.logger(ctx, "idempotency.replay", map[string]any{"key": key})
				writeStoredResponse(w, claim.Entry)
				return
			case claim.InFlight:
				httpx.WriteError(ctx, w, httpx.NewError("request_in_progress",
					"a request with this idempotency key is still being processed", http.StatusConflict))
				return
			}

			capture := &responseCapture{header: make(http.Header)}
			next.ServeHTTP(capture, r)

			// Server errors are not stored: the client should be able to
			// retry a failed attempt with the same key.
			if capture.statusCode() >= http.StatusInternalServerError {
				if err := store.Forget(ctx, key); err != nil {
					cfg.logger(ctx, "idempotency.forget.failed", map[string]any{"key": key, "error": err.Error()})
				}
				capture.flush(w)
				return
			}

			if err := store.Fulfil(ctx, key, capture.captured(), cfg.clock().UTC(), cfg.ttl); err != nil {
				// The order is already created; surface the real response
				// and free the key rather than fail the request.
				cfg.logger(ctx, "idempotency.fulfil.failed", map[string]any{"key": key, "error": err.Error()})
				if err := store.Forget(ctx, key); err != nil {
					cfg.logger(ctx, "idempotency.forget.failed", map[string]any{"key": key, "error": err.Error()})
				}
			}
			capture.flush(w)
		})
	}
}

// requestFingerprint binds the key to the request content so reusing a key
// with a different payload is detected. The body is restored for the handler.
func requestFingerprint(r *http.Request) (string, error) {
	var body []byte
	if r.Body != nil {
		defer r.Body.Close()
		buf, err := io.ReadAll(r.Body)
		if err != nil {
			return "", err
		}
		r.Body = io.NopCloser(bytes.NewReader(buf))
		body = buf
	}
	bodyHash := sha256.Sum256(body)

	var b strings.Builder
	b.WriteString(strings.ToUpper(r.Method))
	b.WriteByte('|')
	b.WriteString(r.URL.EscapedPath())
	b.WriteByte('|')
	b.WriteString(r.URL.RawQuery)
	b.WriteByte('|')
	b.WriteString(r.Header.Get("Content-Type"))
	b.WriteByte('|')
	b.WriteString(hex.EncodeToString(bodyHash[:]))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

func writeStoredResponse(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(ReplayHeader, "true")
	statusCode := entry.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	w.WriteHeader(statusCode)
	_, _ = w.Write(entry.Body)
}

// responseCapture buffers the handler's response so it can be persisted
// before reaching the client.
type responseCapture struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (c *responseCapture) Header() http.Header { return c.header }

func (c *responseCapture) WriteHeader(statusCode int) {
	if c.status == 0 {
		c.status = statusCode
	}
}

func (c *responseCapture) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *responseCapture) captured() CapturedResponse {
	return CapturedResponse{
		StatusCode: c.statusCode(),
		Header:     c.header,
		Body:       c.body.Bytes(),
	}
}

func (c *responseCapture) flush(w http.ResponseWriter) {
	for name, values := range c.header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(c.statusCode())
	_, _ = w.Write(c.body.Bytes())
}
