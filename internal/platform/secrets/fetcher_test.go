package secrets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretManager struct {
	calls  int
	values map[string]string
	err    error
}

func (f *fakeSecretManager) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "secret version not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeSecretManager) Close() error { return nil }

func writeFallbackFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}
	return path
}

func TestResolveFetchesFromSecretManager(t *testing.T) {
	client := &fakeSecretManager{values: map[string]string{
		"projects/maison-verte/secrets/stripe_api_key/versions/latest": "sk_live_123",
	}}

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("maison-verte"),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	value, err := fetcher.Resolve(context.Background(), "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "sk_live_123" {
		t.Fatalf("expected sk_live_123, got %q", value)
	}
}

func TestResolveCachesValues(t *testing.T) {
	client := &fakeSecretManager{values: map[string]string{
		"projects/maison-verte/secrets/stripe_api_key/versions/latest": "sk_live_123",
	}}

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("maison-verte"),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	for range 3 {
		if _, err := fetcher.Resolve(context.Background(), "secret://stripe_api_key"); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if client.calls != 1 {
		t.Fatalf("expected one secret manager call, got %d", client.calls)
	}
}

func TestResolveHonoursVersionAndProjectOverrides(t *testing.T) {
	client := &fakeSecretManager{values: map[string]string{
		"projects/other-project/secrets/webhook_secret/versions/3": "whsec_v3",
	}}

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("maison-verte"),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	value, err := fetcher.Resolve(context.Background(), "secret://webhook_secret?version=3&project=other-project")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "whsec_v3" {
		t.Fatalf("expected whsec_v3, got %q", value)
	}
}

func TestResolveFallsBackToLocalFileOutsideProduction(t *testing.T) {
	client := &fakeSecretManager{err: status.Error(codes.PermissionDenied, "no access")}
	fallback := writeFallbackFile(t,
		"# local development secrets",
		"stripe_api_key=sk_test_local",
		"secret://webhook_secret=whsec_local",
	)

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("maison-verte"),
		WithEnvironment("local"),
		WithFallbackFile(fallback),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	value, err := fetcher.Resolve(context.Background(), "secret://stripe_api_key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "sk_test_local" {
		t.Fatalf("expected fallback value, got %q", value)
	}

	value, err = fetcher.Resolve(context.Background(), "secret://webhook_secret")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "whsec_local" {
		t.Fatalf("expected fallback value keyed by reference, got %q", value)
	}
}

func TestResolveRefusesFallbackInProduction(t *testing.T) {
	client := &fakeSecretManager{err: status.Error(codes.PermissionDenied, "no access")}
	fallback := writeFallbackFile(t, "stripe_api_key=sk_test_local")

	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(client),
		WithDefaultProject("maison-verte"),
		WithEnvironment("production"),
		WithFallbackFile(fallback),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	if _, err := fetcher.Resolve(context.Background(), "secret://stripe_api_key"); err == nil {
		t.Fatal("expected production resolve to fail instead of using the fallback file")
	}
}

func TestResolveRejectsMalformedReferences(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(),
		WithSecretManagerClient(&fakeSecretManager{}),
		WithDefaultProject("maison-verte"),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	for _, ref := range []string{"", "stripe_api_key", "vault://stripe_api_key", "secret://"} {
		if _, err := fetcher.Resolve(context.Background(), ref); err == nil {
			t.Fatalf("expected %q to be rejected", ref)
		}
	}
}
