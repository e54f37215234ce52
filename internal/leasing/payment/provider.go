package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"leasing-workers/internal/models"

	"github.com/google/uuid"
)

// ProviderIntentRequest asks the provider to open a payment for an amount.
type ProviderIntentRequest struct {
	IntentID    string            `json:"intentId"`
	AmountCents int64             `json:"amountCents"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ProviderIntentResponse is the provider's answer to an intent request.
type ProviderIntentResponse struct {
	Reference    string               `json:"reference"`
	ClientSecret string               `json:"clientSecret,omitempty"`
	Status       models.PaymentStatus `json:"status"`
}

// ProviderConfirmRequest carries the client-side confirmation payload.
type ProviderConfirmRequest struct {
	Reference    string                 `json:"reference"`
	Confirmation map[string]interface{} `json:"confirmation,omitempty"`
}

// ProviderConfirmResponse is the settled outcome of a confirmation.
type ProviderConfirmResponse struct {
	Status         models.PaymentStatus `json:"status"`
	FailureCode    string               `json:"failureCode,omitempty"`
	FailureMessage string               `json:"failureMessage,omitempty"`
}

// Provider is the external payment processor.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, req ProviderIntentRequest) (*ProviderIntentResponse, error)
	ConfirmIntent(ctx context.Context, req ProviderConfirmRequest) (*ProviderConfirmResponse, error)
}

// StubProvider settles payments locally. The confirmation field "outcome"
// selects the result: "decline" fails with card_declined, "processing"
// leaves the payment pending, anything else succeeds.
type StubProvider struct{}

func NewStubProvider() *StubProvider {
	return &StubProvider{}
}

func (p *StubProvider) Name() string {
	return "stub"
}

func (p *StubProvider) CreateIntent(_ context.Context, req ProviderIntentRequest) (*ProviderIntentResponse, error) {
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", req.AmountCents)
	}
	ref := "stub_pi_" + uuid.New().String()
	return &ProviderIntentResponse{
		Reference:    ref,
		ClientSecret: ref + "_secret",
		Status:       models.PaymentRequiresAction,
	}, nil
}

func (p *StubProvider) ConfirmIntent(_ context.Context, req ProviderConfirmRequest) (*ProviderConfirmResponse, error) {
	outcome, _ := req.Confirmation["outcome"].(string)
	switch strings.ToLower(outcome) {
	case "decline":
		return &ProviderConfirmResponse{
			Status:         models.PaymentFailed,
			FailureCode:    "card_declined",
			FailureMessage: "The card was declined.",
		}, nil
	case "processing":
		return &ProviderConfirmResponse{Status: models.PaymentProcessing}, nil
	default:
		return &ProviderConfirmResponse{Status: models.PaymentSucceeded}, nil
	}
}

// NewProvider returns the provider registered under name.
func NewProvider(name string) (Provider, error) {
	switch name {
	case "", "stub":
		return NewStubProvider(), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", name)
	}
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
