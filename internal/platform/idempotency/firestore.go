package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultCollection = "idempotency_keys"

// FirestoreStore persists idempotency entries in a Firestore collection.
// The claim runs in a transaction so two concurrent submissions with the
// same key cannot both create an order. Document retention relies on a
// Firestore TTL policy over the expires_at field.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// FirestoreStoreOption customises the store.
type FirestoreStoreOption func(*FirestoreStore)

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreStoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// NewFirestoreStore builds a store over the given client.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreStoreOption) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("idempotency: firestore client is required")
	}
	s := &FirestoreStore{client: client, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

type entryDocument struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	Done        bool                `firestore:"done"`
	StatusCode  int                 `firestore:"status_code"`
	Header      map[string][]string `firestore:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	CreatedAt   time.Time           `firestore:"created_at"`
	ExpiresAt   time.Time           `firestore:"expires_at"`
}

func (d entryDocument) toEntry() Entry {
	return Entry{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		Done:        d.Done,
		StatusCode:  d.StatusCode,
		Header:      d.Header,
		Body:        d.Body,
		CreatedAt:   d.CreatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}

// Claim reserves the key transactionally or reports the existing state.
func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	ref := s.client.Collection(s.collection).Doc(entryID(key))

	var claim Claim
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		claim = Claim{}

		snapshot, err := tx.Get(ref)
		switch {
		case err == nil:
			var doc entryDocument
			if err := snapshot.DataTo(&doc); err != nil {
				return fmt.Errorf("idempotency: decode entry: %w", err)
			}
			if doc.ExpiresAt.After(now) {
				if doc.Fingerprint != fingerprint {
					return ErrKeyReused
				}
				if doc.Done {
					claim = Claim{Replay: true, Entry: doc.toEntry()}
					return nil
				}
				claim = Claim{InFlight: true, Entry: doc.toEntry()}
				return nil
			}
			// Expired entry, reclaim it below.
		case status.Code(err) == codes.NotFound:
		default:
			return fmt.Errorf("idempotency: read entry: %w", err)
		}

		return tx.Set(ref, entryDocument{
			Key:         key,
			Fingerprint: fingerprint,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		})
	})
	if err != nil {
		if errors.Is(err, ErrKeyReused) {
			return Claim{}, ErrKeyReused
		}
		return Claim{}, fmt.Errorf("idempotency: claim key: %w", err)
	}
	return claim, nil
}

// Fulfil stores the completed response under the key.
func (s *FirestoreStore) Fulfil(ctx context.Context, key string, resp CapturedResponse, now time.Time, ttl time.Duration) error {
	ref := s.client.Collection(s.collection).Doc(entryID(key))
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "done", Value: true},
		{Path: "status_code", Value: resp.StatusCode},
		{Path: "header", Value: storableHeader(resp.Header)},
		{Path: "body", Value: resp.Body},
		{Path: "expires_at", Value: now.Add(ttl)},
	})
	if err != nil {
		return fmt.Errorf("idempotency: fulfil key: %w", err)
	}
	return nil
}

// Forget deletes the entry so a later request can retry.
func (s *FirestoreStore) Forget(ctx context.Context, key string) error {
	_, err := s.client.Collection(s.collection).Doc(entryID(key)).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("idempotency: forget key: %w", err)
	}
	return nil
}
