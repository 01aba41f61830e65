package payments

import (
	"context"
	"errors"
	"strings"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// CheckoutLineItem describes a single line item to include in a checkout
// session. Amount is in integer minor currency units; conversion from domain
// decimals happens before this boundary.
type CheckoutLineItem struct {
	Name        string
	Description string
	SKU         string
	Quantity    int64
	Amount      int64
	Currency    string
}

// CheckoutSessionRequest captures the payload required to create a checkout session.
type CheckoutSessionRequest struct {
	OrderID        string
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
}

// CheckoutSession represents the hosted session returned to the client.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
}

// Manager coordinates provider selection behind one Provider facade.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// NewManager constructs a Manager with the given named providers. The first
// registered provider becomes the default unless overridden.
func NewManager(providers map[string]Provider, defaultProvider string) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	normalised := make(map[string]Provider, len(providers))
	for name, provider := range providers {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || provider == nil {
			return nil, errors.New("payments: provider entries must be named and non-nil")
		}
		normalised[name] = provider
	}

	defaultProvider = strings.ToLower(strings.TrimSpace(defaultProvider))
	if defaultProvider == "" {
		for name := range normalised {
			defaultProvider = name
			break
		}
	}
	if _, ok := normalised[defaultProvider]; !ok {
		return nil, ErrUnsupportedProvider
	}

	return &Manager{providers: normalised, defaultProvider: defaultProvider}, nil
}

// CreateCheckoutSession delegates to the default provider.
func (m *Manager) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if m == nil {
		return CheckoutSession{}, ErrUnsupportedProvider
	}
	provider, ok := m.providers[m.defaultProvider]
	if !ok {
		return CheckoutSession{}, ErrUnsupportedProvider
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	if session.Provider == "" {
		session.Provider = m.defaultProvider
	}
	return session, nil
}
