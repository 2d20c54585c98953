package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	List(params *stripe.CheckoutSessionListParams) ([]*stripe.CheckoutSession, error)
}

// liveSessionAPI adapts the Stripe client, draining list iterators into slices.
type liveSessionAPI struct {
	api *client.API
}

func (a liveSessionAPI) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return a.api.CheckoutSessions.New(params)
}

func (a liveSessionAPI) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return a.api.CheckoutSessions.Get(id, params)
}

func (a liveSessionAPI) List(params *stripe.CheckoutSessionListParams) ([]*stripe.CheckoutSession, error) {
	iter := a.api.CheckoutSessions.List(params)
	var sessions []*stripe.CheckoutSession
	for iter.Next() {
		sessions = append(sessions, iter.CheckoutSession())
	}
	return sessions, iter.Err()
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey   string
	Currency string
	// Timeout bounds every gateway call. Zero keeps the default of 10s.
	Timeout  time.Duration
	Backends *stripe.Backends
	Logger   StripeLogger
	Sessions stripeSessionAPI
}

// StripeGateway implements the Gateway interface over Stripe hosted checkouts.
type StripeGateway struct {
	sessions stripeSessionAPI
	currency string
	timeout  time.Duration
	logger   StripeLogger
}

// NewStripeGateway constructs a Stripe Gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sessions = liveSessionAPI{api: client.New(apiKey, cfg.Backends)}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "eur"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		sessions: sessions,
		currency: currency,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// CreateCheckout opens a Stripe Checkout session keyed by the merchant
// reference. When Stripe rejects the idempotency key because a session already
// exists for the reference, that session is fetched and returned unchanged.
func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	if g == nil {
		return Checkout{}, errors.New("stripe: gateway is nil")
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return Checkout{}, g.wrap("create_checkout", errors.New("checkout reference is required"))
	}
	if req.Amount <= 0 {
		return Checkout{}, g.wrap("create_checkout", errors.New("checkout amount must be positive"))
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = g.currency
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Order " + reference
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.ReturnURL),
		ClientReferenceID: stripe.String(reference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
				},
			},
		},
	}
	params.Context = callCtx
	params.SetIdempotencyKey("checkout-" + reference)
	if cancelURL := strings.TrimSpace(req.CancelURL); cancelURL != "" {
		params.CancelURL = stripe.String(cancelURL)
	}
	if metadata := normalizeMetadata(req.Metadata); len(metadata) > 0 {
		params.Metadata = metadata
	}

	session, err := g.sessions.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeIdempotency {
			existing, lookupErr := g.FindCheckoutByReference(ctx, reference)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return Checkout{}, g.wrap("create_checkout", err)
	}

	g.logger(ctx, "payments.stripe.checkout.created", map[string]any{
		"checkoutId": session.ID,
		"reference":  reference,
		"amount":     req.Amount,
	})
	return checkoutFromSession(session), nil
}

// GetCheckout fetches the current state of a checkout session.
func (g *StripeGateway) GetCheckout(ctx context.Context, checkoutID string) (Checkout, error) {
	if g == nil {
		return Checkout{}, errors.New("stripe: gateway is nil")
	}
	id := strings.TrimSpace(checkoutID)
	if id == "" {
		return Checkout{}, g.wrap("get_checkout", errors.New("checkout id is required"))
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = callCtx

	session, err := g.sessions.Get(id, params)
	if err != nil {
		return Checkout{}, g.wrap("get_checkout", err)
	}
	return checkoutFromSession(session), nil
}

// FindCheckoutByReference scans recent sessions for the merchant reference.
// Stripe offers no server-side filter on the client reference, so the match
// happens over one page of the most recent sessions.
func (g *StripeGateway) FindCheckoutByReference(ctx context.Context, reference string) (Checkout, error) {
	if g == nil {
		return Checkout{}, errors.New("stripe: gateway is nil")
	}
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return Checkout{}, g.wrap("find_checkout", errors.New("checkout reference is required"))
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionListParams{}
	params.Context = callCtx
	params.Limit = stripe.Int64(100)

	sessions, err := g.sessions.List(params)
	if err != nil {
		return Checkout{}, g.wrap("find_checkout", err)
	}
	for _, session := range sessions {
		if session != nil && session.ClientReferenceID == ref {
			return checkoutFromSession(session), nil
		}
	}
	return Checkout{}, ErrCheckoutNotFound
}

// normalizeMetadata trims keys and values and drops empty keys before the
// map is attached to the Stripe session.
func normalizeMetadata(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		result[trimmed] = strings.TrimSpace(value)
	}
	return result
}

func (g *StripeGateway) wrap(op string, err error) error {
	gatewayErr := &GatewayError{Provider: "stripe", Op: op, Err: err}
	if errors.Is(err, context.DeadlineExceeded) {
		gatewayErr.Timeout = true
	}
	return gatewayErr
}

func checkoutFromSession(session *stripe.CheckoutSession) Checkout {
	if session == nil {
		return Checkout{}
	}

	status := CheckoutStatusPending
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		session.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		status = CheckoutStatusPaid
	case session.Status == stripe.CheckoutSessionStatusExpired:
		status = CheckoutStatusExpired
	}

	var expiresAt time.Time
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return Checkout{
		ID:        session.ID,
		Reference: session.ClientReferenceID,
		Status:    status,
		URL:       session.URL,
		ExpiresAt: expiresAt,
	}
}
