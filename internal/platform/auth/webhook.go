package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maisonverte/api/internal/platform/httpx"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute
)

// NonceStore remembers nonces long enough to reject a replayed callback.
type NonceStore interface {
	// UseNonce returns true when the nonce was unseen and is now recorded
	// until expiry, false when it was already used.
	UseNonce(ctx context.Context, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore keeps nonces in process memory. Enough for a single
// replica; a multi-replica deployment needs a shared store.
type InMemoryNonceStore struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	clock func() time.Time
}

// NewInMemoryNonceStore constructs an empty store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{seen: make(map[string]time.Time), clock: time.Now}
}

// UseNonce records the nonce until expiry, rejecting duplicates until then.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, nonce string, expiry time.Time) (bool, error) {
	if nonce == "" {
		return false, errors.New("auth: nonce is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	for key, exp := range s.seen {
		if exp.Before(now) {
			delete(s.seen, key)
		}
	}

	if expiry.Before(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}
	if exp, ok := s.seen[nonce]; ok && exp.After(now) {
		return false, nil
	}

	s.seen[nonce] = expiry
	return true, nil
}

// WebhookVerifier authenticates the payment gateway's callback: an
// HMAC-SHA256 signature over method, path, timestamp, nonce and body hash,
// with a bounded clock skew and single-use nonces. Several secrets may be
// active at once so rotation does not drop callbacks signed with the
// previous key.
type WebhookVerifier struct {
	secrets [][]byte
	nonces  NonceStore

	clock  func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)

	signatureHeader string
	timestampHeader string
	nonceHeader     string

	clockSkew time.Duration
	nonceTTL  time.Duration
}

// VerifierOption customises the verifier.
type VerifierOption func(*WebhookVerifier)

// NewWebhookVerifier builds a verifier from the active signing secrets.
func NewWebhookVerifier(secrets []string, nonces NonceStore, opts ...VerifierOption) (*WebhookVerifier, error) {
	keys := make([][]byte, 0, len(secrets))
	for _, secret := range secrets {
		if trimmed := strings.TrimSpace(secret); trimmed != "" {
			keys = append(keys, []byte(trimmed))
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("auth: at least one signing secret is required")
	}
	if nonces == nil {
		return nil, errors.New("auth: nonce store is required")
	}

	v := &WebhookVerifier{
		secrets:         keys,
		nonces:          nonces,
		clock:           time.Now,
		logger:          func(context.Context, string, map[string]any) {},
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// WithVerifierClock injects a custom clock, primarily for tests.
func WithVerifierClock(clock func() time.Time) VerifierOption {
	return func(v *WebhookVerifier) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// WithVerifierLogger sets the event logger.
func WithVerifierLogger(logger func(ctx context.Context, event string, fields map[string]any)) VerifierOption {
	return func(v *WebhookVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithVerifierHeaders overrides the header names carrying the signature.
func WithVerifierHeaders(signature, timestamp, nonce string) VerifierOption {
	return func(v *WebhookVerifier) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithVerifierClockSkew adjusts the accepted timestamp skew.
func WithVerifierClockSkew(d time.Duration) VerifierOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithVerifierNonceTTL adjusts how long nonces are retained.
func WithVerifierNonceTTL(d time.Duration) VerifierOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// Middleware rejects requests whose signature does not verify. The body is
// read for hashing and restored for the wrapped handler.
func (v *WebhookVerifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			signatureValue := strings.TrimSpace(r.Header.Get(v.signatureHeader))
			if signatureValue == "" {
				v.reject(ctx, w, "signature_missing", "signature header missing")
				return
			}

			timestampValue := strings.TrimSpace(r.Header.Get(v.timestampHeader))
			timestamp, err := parseSignatureTimestamp(timestampValue)
			if err != nil {
				v.reject(ctx, w, "timestamp_invalid", "signature timestamp missing or invalid")
				return
			}
			if skew := v.clock().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
				v.reject(ctx, w, "timestamp_skew", "signature timestamp outside allowed window")
				return
			}

			nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
			if nonce == "" {
				v.reject(ctx, w, "nonce_missing", "signature nonce missing")
				return
			}

			body, err := readAndRestoreBody(r)
			if err != nil {
				v.reject(ctx, w, "invalid_body", "unable to read body for signature verification")
				return
			}

			signature, err := decodeSignature(signatureValue)
			if err != nil {
				v.reject(ctx, w, "signature_invalid", "signature encoding invalid")
				return
			}

			canonical := canonicalPayload(r, body, timestampValue, nonce)
			if !v.matchesAnySecret(signature, canonical) {
				v.reject(ctx, w, "signature_mismatch", "signature verification failed")
				return
			}

			expiry := timestamp.Add(v.nonceTTL)
			if expiry.Before(v.clock()) {
				expiry = v.clock().Add(v.nonceTTL)
			}
			fresh, err := v.nonces.UseNonce(ctx, nonce, expiry)
			if err != nil {
				v.logger(ctx, "auth.nonce_store.error", map[string]any{"error": err.Error()})
				httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "nonce storage error", http.StatusServiceUnavailable))
				return
			}
			if !fresh {
				v.reject(ctx, w, "nonce_replay", "duplicate signature nonce")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (v *WebhookVerifier) matchesAnySecret(signature, canonical []byte) bool {
	for _, secret := range v.secrets {
		mac := hmac.New(sha256.New, secret)
		mac.Write(canonical)
		if hmac.Equal(signature, mac.Sum(nil)) {
			return true
		}
	}
	return false
}

func (v *WebhookVerifier) reject(ctx context.Context, w http.ResponseWriter, code, message string) {
	v.logger(ctx, "auth.webhook.rejected", map[string]any{"reason": code})
	httpx.WriteError(ctx, w, httpx.NewError(code, message, http.StatusUnauthorized))
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, errors.New("auth: unable to parse timestamp")
}

// canonicalPayload pins the signature to the request line and body so a
// captured signature cannot be replayed against a different path or payload.
func canonicalPayload(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	bodyHash := sha256.Sum256(body)

	var buf bytes.Buffer
	buf.WriteString(strings.ToUpper(r.Method))
	buf.WriteByte('\n')
	buf.WriteString(path)
	buf.WriteByte('\n')
	buf.WriteString(timestamp)
	buf.WriteByte('\n')
	buf.WriteString(nonce)
	buf.WriteByte('\n')
	buf.WriteString(hex.EncodeToString(bodyHash[:]))
	return buf.Bytes()
}
