// Package idempotency guards order creation against duplicate submissions:
// a client retrying a POST with the same Idempotency-Key gets the stored
// response of the first attempt instead of a second order.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a stored response remains replayable.
const DefaultTTL = 24 * time.Hour

// ErrKeyReused signals an Idempotency-Key presented with a different request
// payload than the one it was first used for.
var ErrKeyReused = errors.New("idempotency: key reused for a different request")

// Entry is the persisted state of one idempotency key.
type Entry struct {
	Key         string
	Fingerprint string
	// Done is false while the first request is still executing.
	Done       bool
	StatusCode int
	Header     map[string][]string
	Body       []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Claim is the outcome of claiming a key before running the handler.
type Claim struct {
	// Replay is true when a completed response exists and should be served.
	Replay bool
	// InFlight is true when another request currently holds the key.
	InFlight bool
	Entry    Entry
}

// CapturedResponse is the handler output persisted for replay.
type CapturedResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Store persists idempotency entries. Expired entries are reclaimed lazily
// on the next Claim; Firestore deployments additionally expire the documents
// through a TTL policy on the expires_at field.
type Store interface {
	// Claim reserves the key for this request or reports the existing state.
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	// Fulfil stores the completed response under the key.
	Fulfil(ctx context.Context, key string, resp CapturedResponse, now time.Time, ttl time.Duration) error
	// Forget drops the claim so the client may retry after a failure.
	Forget(ctx context.Context, key string) error
}

func entryID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// storableHeader drops hop-by-hop and volatile headers before persistence.
func storableHeader(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	kept := make(map[string][]string, len(header))
	for name, values := range header {
		switch strings.ToLower(name) {
		case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "upgrade", "trailer":
			continue
		}
		kept[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
