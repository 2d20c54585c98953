//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/maisonverte/api/internal/domain"
	pconfig "github.com/maisonverte/api/internal/platform/config"
	pfirestore "github.com/maisonverte/api/internal/platform/firestore"
	"github.com/maisonverte/api/internal/repositories"
)

func TestVariantRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "variant-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewVariantRepository(provider)
	if err != nil {
		t.Fatalf("new variant repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("firestore client: %v", err)
	}

	now := time.Now().UTC()
	if _, err := client.Collection(variantsCollection).Doc("var_fig").Set(ctx, variantDocument{
		ProductRef: "products/prod_fig",
		Name:       "Ficus lyrata 40cm",
		Stock:      3,
		Status:     string(domain.VariantStatusAvailable),
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed variant: %v", err)
	}

	// Twice as many guarded reservations as units in stock: exactly three
	// may win and the count must never go below zero.
	const attempts = 6
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		reserved     int
		insufficient int
	)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.AdjustStock(ctx, repositories.VariantStockAdjustment{
				VariantID:         "var_fig",
				Delta:             -1,
				GuardAvailability: true,
				Now:               time.Now().UTC(),
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				reserved++
			default:
				var invErr *repositories.InventoryError
				if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
					t.Errorf("expected insufficient stock, got %v", err)
					return
				}
				insufficient++
			}
		}()
	}
	wg.Wait()

	if reserved != 3 || insufficient != 3 {
		t.Fatalf("expected 3 reservations and 3 refusals, got %d/%d", reserved, insufficient)
	}

	variant, err := repo.FindByID(ctx, "var_fig")
	if err != nil {
		t.Fatalf("find after reserve: %v", err)
	}
	if variant.Stock != 0 {
		t.Fatalf("expected stock drained to 0, got %d", variant.Stock)
	}
	if variant.Status != domain.VariantStatusSold {
		t.Fatalf("expected derived sold status, got %s", variant.Status)
	}

	// Concurrent releases restore the count without losing an increment.
	wg.Add(3)
	for i := 0; i < 3; i++ {
		go func() {
			defer wg.Done()
			if _, err := repo.AdjustStock(ctx, repositories.VariantStockAdjustment{
				VariantID: "var_fig",
				Delta:     1,
				Now:       time.Now().UTC(),
			}); err != nil {
				t.Errorf("release: %v", err)
			}
		}()
	}
	wg.Wait()

	variant, err = repo.FindByID(ctx, "var_fig")
	if err != nil {
		t.Fatalf("find after release: %v", err)
	}
	if variant.Stock != 3 {
		t.Fatalf("expected stock restored to 3, got %d", variant.Stock)
	}
	if variant.Status != domain.VariantStatusAvailable {
		t.Fatalf("expected derived available status, got %s", variant.Status)
	}

	// An unguarded oversized decrement clamps at zero instead of going
	// negative.
	variant, err = repo.AdjustStock(ctx, repositories.VariantStockAdjustment{
		VariantID: "var_fig",
		Delta:     -10,
		Now:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("clamped adjust: %v", err)
	}
	if variant.Stock != 0 {
		t.Fatalf("expected clamp at zero, got %d", variant.Stock)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatal("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
