package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID": "demo-project",
		}),
	)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Environment != "local" {
		t.Fatalf("expected local environment, got %s", cfg.Environment)
	}
	if cfg.Orders.PaymentWindow != 48*time.Hour {
		t.Fatalf("expected 48h payment window, got %s", cfg.Orders.PaymentWindow)
	}
	if cfg.Orders.SweepInterval != time.Hour {
		t.Fatalf("expected hourly sweep, got %s", cfg.Orders.SweepInterval)
	}
	if cfg.Gateway.Currency != "EUR" {
		t.Fatalf("expected EUR currency, got %s", cfg.Gateway.Currency)
	}
	if cfg.Notifications.PubSubProjectID != "demo-project" {
		t.Fatalf("expected pubsub project to default to firestore project, got %s", cfg.Notifications.PubSubProjectID)
	}
}

func TestLoadMissingProjectID(t *testing.T) {
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := validation.Fields()
	found := false
	for _, field := range fields {
		if field == "Firestore.ProjectID" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Firestore.ProjectID in %v", fields)
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref != "secret://projects/demo/secrets/stripe" {
			return "", errors.New("unexpected ref " + ref)
		}
		return "sk_test_resolved", nil
	})

	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID":   "demo-project",
			"API_GATEWAY_STRIPE_API_KEY": "sm://projects/demo/secrets/stripe",
		}),
	)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.StripeAPIKey != "sk_test_resolved" {
		t.Fatalf("expected resolved key, got %q", cfg.Gateway.StripeAPIKey)
	}
}

func TestLoadSecretResolverFailure(t *testing.T) {
	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID":   "demo-project",
			"API_GATEWAY_STRIPE_API_KEY": "secret://projects/demo/secrets/stripe",
		}),
	)
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected secret error, got %v", err)
	}
}

func TestLoadWebhookSecretsMap(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID": "demo-project",
			"API_WEBHOOK_SECRETS":      "payments=whsec_abc, Internal=whsec_def",
		}),
	)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Webhooks.Secrets["payments"] != "whsec_abc" {
		t.Fatalf("expected payments secret, got %#v", cfg.Webhooks.Secrets)
	}
	if cfg.Webhooks.Secrets["internal"] != "whsec_def" {
		t.Fatalf("expected lowercased key, got %#v", cfg.Webhooks.Secrets)
	}
}
