package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type stubSessionAPI struct {
	newFn  func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	getFn  func(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	listFn func(params *stripe.CheckoutSessionListParams) ([]*stripe.CheckoutSession, error)
}

func (s *stubSessionAPI) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if s.newFn == nil {
		return nil, errors.New("unexpected New call")
	}
	return s.newFn(params)
}

func (s *stubSessionAPI) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if s.getFn == nil {
		return nil, errors.New("unexpected Get call")
	}
	return s.getFn(id, params)
}

func (s *stubSessionAPI) List(params *stripe.CheckoutSessionListParams) ([]*stripe.CheckoutSession, error) {
	if s.listFn == nil {
		return nil, errors.New("unexpected List call")
	}
	return s.listFn(params)
}

func TestStripeGatewayCreateCheckout(t *testing.T) {
	var captured *stripe.CheckoutSessionParams
	stub := &stubSessionAPI{
		newFn: func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			captured = params
			return &stripe.CheckoutSession{
				ID:                "cs_test_123",
				ClientReferenceID: "ORD-2025-0007",
				URL:               "https://checkout.example/cs_test_123",
				Status:            stripe.CheckoutSessionStatusOpen,
				PaymentStatus:     stripe.CheckoutSessionPaymentStatusUnpaid,
				ExpiresAt:         time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).Unix(),
			}, nil
		},
	}
	gateway, err := NewStripeGateway(StripeGatewayConfig{Sessions: stub, Currency: "eur"})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	checkout, err := gateway.CreateCheckout(context.Background(), CheckoutRequest{
		Amount:    2500,
		Reference: "ORD-2025-0007",
		ReturnURL: "https://shop.example/return",
	})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}

	if checkout.ID != "cs_test_123" {
		t.Fatalf("expected checkout id cs_test_123, got %s", checkout.ID)
	}
	if checkout.Status != CheckoutStatusPending {
		t.Fatalf("expected pending status, got %s", checkout.Status)
	}
	if captured == nil {
		t.Fatal("expected session params to be captured")
	}
	if got := stripe.StringValue(captured.ClientReferenceID); got != "ORD-2025-0007" {
		t.Fatalf("expected client reference id, got %q", got)
	}
	if len(captured.LineItems) != 1 {
		t.Fatalf("expected one line item, got %d", len(captured.LineItems))
	}
	if got := stripe.Int64Value(captured.LineItems[0].PriceData.UnitAmount); got != 2500 {
		t.Fatalf("expected unit amount 2500, got %d", got)
	}
}

func TestStripeGatewayCreateCheckoutDuplicateReference(t *testing.T) {
	existing := &stripe.CheckoutSession{
		ID:                "cs_existing",
		ClientReferenceID: "ORD-2025-0001",
		URL:               "https://checkout.example/cs_existing",
		Status:            stripe.CheckoutSessionStatusOpen,
		PaymentStatus:     stripe.CheckoutSessionPaymentStatusUnpaid,
	}
	stub := &stubSessionAPI{
		newFn: func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			return nil, &stripe.Error{Type: stripe.ErrorTypeIdempotency, Msg: "keys for idempotent requests"}
		},
		listFn: func(*stripe.CheckoutSessionListParams) ([]*stripe.CheckoutSession, error) {
			return []*stripe.CheckoutSession{existing}, nil
		},
	}
	gateway, err := NewStripeGateway(StripeGatewayConfig{Sessions: stub})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	checkout, err := gateway.CreateCheckout(context.Background(), CheckoutRequest{
		Amount:    2000,
		Reference: "ORD-2025-0001",
		ReturnURL: "https://shop.example/return",
	})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if checkout.ID != "cs_existing" {
		t.Fatalf("expected existing checkout id, got %s", checkout.ID)
	}
}

func TestStripeGatewayGetCheckoutPaid(t *testing.T) {
	stub := &stubSessionAPI{
		getFn: func(id string, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			if id != "cs_paid" {
				t.Fatalf("unexpected checkout id %s", id)
			}
			return &stripe.CheckoutSession{
				ID:            "cs_paid",
				Status:        stripe.CheckoutSessionStatusComplete,
				PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
			}, nil
		},
	}
	gateway, err := NewStripeGateway(StripeGatewayConfig{Sessions: stub})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	checkout, err := gateway.GetCheckout(context.Background(), "cs_paid")
	if err != nil {
		t.Fatalf("get checkout: %v", err)
	}
	if checkout.Status != CheckoutStatusPaid {
		t.Fatalf("expected paid status, got %s", checkout.Status)
	}
}

func TestStripeGatewayFindCheckoutByReferenceNotFound(t *testing.T) {
	stub := &stubSessionAPI{
		listFn: func(*stripe.CheckoutSessionListParams) ([]*stripe.CheckoutSession, error) {
			return []*stripe.CheckoutSession{
				{ID: "cs_other", ClientReferenceID: "ORD-2025-0042"},
			}, nil
		},
	}
	gateway, err := NewStripeGateway(StripeGatewayConfig{Sessions: stub})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	_, err = gateway.FindCheckoutByReference(context.Background(), "ORD-2025-0001")
	if !errors.Is(err, ErrCheckoutNotFound) {
		t.Fatalf("expected ErrCheckoutNotFound, got %v", err)
	}
}

func TestStripeGatewayWrapsTimeout(t *testing.T) {
	stub := &stubSessionAPI{
		getFn: func(string, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			return nil, context.DeadlineExceeded
		},
	}
	gateway, err := NewStripeGateway(StripeGatewayConfig{Sessions: stub})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	_, err = gateway.GetCheckout(context.Background(), "cs_slow")
	var gatewayErr *GatewayError
	if !errors.As(err, &gatewayErr) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if !gatewayErr.Timeout {
		t.Fatalf("expected timeout flag on %v", gatewayErr)
	}
}

func TestStripeGatewayNormalizesMetadata(t *testing.T) {
	var captured *stripe.CheckoutSessionParams
	stub := &stubSessionAPI{
		newFn: func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			captured = params
			return &stripe.CheckoutSession{ID: "cs_meta", ClientReferenceID: "ORD-2025-0008"}, nil
		},
	}
	gateway, err := NewStripeGateway(StripeGatewayConfig{Sessions: stub})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	_, err = gateway.CreateCheckout(context.Background(), CheckoutRequest{
		Amount:    1200,
		Reference: "ORD-2025-0008",
		ReturnURL: "https://shop.example/return",
		Metadata: map[string]string{
			" order_id ": " ord_8 ",
			"  ":         "dropped",
		},
	})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}

	if captured == nil {
		t.Fatal("expected session params to be captured")
	}
	if got := captured.Metadata["order_id"]; got != "ord_8" {
		t.Fatalf("expected trimmed metadata value, got %q", got)
	}
	if _, ok := captured.Metadata[" order_id "]; ok {
		t.Fatal("expected metadata keys to be trimmed")
	}
	if len(captured.Metadata) != 1 {
		t.Fatalf("expected empty keys dropped, got %v", captured.Metadata)
	}
}
