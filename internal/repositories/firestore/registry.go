package firestore

import (
	"context"
	"errors"

	"google.golang.org/api/iterator"

	pfirestore "github.com/camellia-shop/api/internal/platform/firestore"
	"github.com/camellia-shop/api/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider

	catalog *CatalogRepository
	coupons *CouponRepository
	usage   *CouponUsageRepository
	orders  *OrderRepository
	health  *HealthRepository
}

// NewRegistry constructs the full repository set sharing one Firestore provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}

	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	usage, err := NewCouponUsageRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider: provider,
		catalog:  catalog,
		coupons:  coupons,
		usage:    usage,
		orders:   orders,
		health:   &HealthRepository{provider: provider},
	}, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Catalog returns the catalog reader.
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

// Coupons returns the coupon repository.
func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

// CouponUsage returns the usage reader.
func (r *Registry) CouponUsage() repositories.CouponUsageRepository { return r.usage }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Health returns the storage connectivity checker.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// HealthRepository verifies Firestore connectivity with a minimal read.
type HealthRepository struct {
	provider *pfirestore.Provider
}

// Ping issues a limit-1 read against the counters collection. An empty result
// is healthy; only transport failures surface as errors.
func (r *HealthRepository) Ping(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return errors.New("health repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	iter := client.Collection(countersCollection).Query.Limit(1).Documents(ctx)
	defer iter.Stop()

	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("health.ping", err)
	}
	return nil
}

var _ repositories.Registry = (*Registry)(nil)
