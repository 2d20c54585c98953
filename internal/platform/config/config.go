package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultEnvironment         = "local"
	defaultCurrency            = "EUR"
	defaultGatewayTimeout      = 10 * time.Second
	defaultPaymentWindow       = 48 * time.Hour
	defaultSweepInterval       = time.Hour
	defaultSweepBatchSize      = 200
	defaultHMACSignatureHeader = "X-Signature"
	defaultHMACTimestampHeader = "X-Signature-Timestamp"
	defaultHMACNonceHeader     = "X-Signature-Nonce"
	defaultHMACClockSkew       = 5 * time.Minute
	defaultHMACNonceTTL        = 5 * time.Minute
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment   string
	Server        ServerConfig
	Firestore     FirestoreConfig
	Gateway       GatewayConfig
	Orders        OrdersConfig
	Notifications NotificationsConfig
	Webhooks      WebhookConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// GatewayConfig collects payment gateway settings. StripeAPIKey may be a
// secret:// or sm:// reference resolved at load time.
type GatewayConfig struct {
	StripeAPIKey string
	Currency     string
	Timeout      time.Duration
	ReturnURL    string
	CancelURL    string
}

// OrdersConfig tunes the order workflow engine.
type OrdersConfig struct {
	// PaymentWindow is how long the customer may pay after admin validation.
	PaymentWindow time.Duration
	// SweepInterval is the cadence of the payment-window expiration sweep.
	SweepInterval time.Duration
	// SweepBatchSize bounds how many expired orders one sweep run processes.
	SweepBatchSize int
}

// NotificationsConfig configures the outbound email dispatch topic.
type NotificationsConfig struct {
	PubSubProjectID string
	EmailTopic      string
	AdminEmail      string
	SenderEmail     string
}

// WebhookConfig contains webhook security parameters.
type WebhookConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values
// in the map take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env
// overrides, environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "API_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Gateway: GatewayConfig{
			StripeAPIKey: stringWithDefault(lookup, "API_GATEWAY_STRIPE_API_KEY", ""),
			Currency:     strings.ToUpper(stringWithDefault(lookup, "API_GATEWAY_CURRENCY", defaultCurrency)),
			Timeout:      durationWithDefault(lookup, "API_GATEWAY_TIMEOUT", defaultGatewayTimeout),
			ReturnURL:    stringWithDefault(lookup, "API_GATEWAY_RETURN_URL", ""),
			CancelURL:    stringWithDefault(lookup, "API_GATEWAY_CANCEL_URL", ""),
		},
		Orders: OrdersConfig{
			PaymentWindow:  durationWithDefault(lookup, "API_ORDERS_PAYMENT_WINDOW", defaultPaymentWindow),
			SweepInterval:  durationWithDefault(lookup, "API_ORDERS_SWEEP_INTERVAL", defaultSweepInterval),
			SweepBatchSize: intWithDefault(lookup, "API_ORDERS_SWEEP_BATCH", defaultSweepBatchSize),
		},
		Notifications: NotificationsConfig{
			PubSubProjectID: stringWithDefault(lookup, "API_NOTIFICATIONS_PUBSUB_PROJECT_ID", ""),
			EmailTopic:      stringWithDefault(lookup, "API_NOTIFICATIONS_EMAIL_TOPIC", ""),
			AdminEmail:      stringWithDefault(lookup, "API_NOTIFICATIONS_ADMIN_EMAIL", ""),
			SenderEmail:     stringWithDefault(lookup, "API_NOTIFICATIONS_SENDER_EMAIL", ""),
		},
		Webhooks: WebhookConfig{
			Secrets:         mapWithDefault(lookup, "API_WEBHOOK_SECRETS"),
			SignatureHeader: stringWithDefault(lookup, "API_WEBHOOK_HEADER_SIGNATURE", defaultHMACSignatureHeader),
			TimestampHeader: stringWithDefault(lookup, "API_WEBHOOK_HEADER_TIMESTAMP", defaultHMACTimestampHeader),
			NonceHeader:     stringWithDefault(lookup, "API_WEBHOOK_HEADER_NONCE", defaultHMACNonceHeader),
			ClockSkew:       durationWithDefault(lookup, "API_WEBHOOK_CLOCK_SKEW", defaultHMACClockSkew),
			NonceTTL:        durationWithDefault(lookup, "API_WEBHOOK_NONCE_TTL", defaultHMACNonceTTL),
		},
	}

	if cfg.Notifications.PubSubProjectID == "" {
		cfg.Notifications.PubSubProjectID = cfg.Firestore.ProjectID
	}

	if resolved, err := resolveSecret(ctx, cfg.Gateway.StripeAPIKey, options.secret); err != nil {
		return Config{}, err
	} else {
		cfg.Gateway.StripeAPIKey = resolved
	}
	for key, value := range cfg.Webhooks.Secrets {
		resolved, err := resolveSecret(ctx, value, options.secret)
		if err != nil {
			return Config{}, err
		}
		cfg.Webhooks.Secrets[key] = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if cfg.Gateway.Timeout <= 0 {
		missing = append(missing, "Gateway.Timeout")
	}
	if cfg.Orders.PaymentWindow <= 0 {
		missing = append(missing, "Orders.PaymentWindow")
	}
	if cfg.Orders.SweepInterval <= 0 {
		missing = append(missing, "Orders.SweepInterval")
	}
	if cfg.Orders.SweepBatchSize <= 0 {
		missing = append(missing, "Orders.SweepBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(parts[1]), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return values
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		secret := strings.TrimSpace(parts[1])
		if name == "" || secret == "" {
			continue
		}
		values[name] = secret
	}
	return values
}
