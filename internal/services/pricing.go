package services

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/camellia-shop/api/internal/domain"
	"github.com/camellia-shop/api/internal/repositories"
)

// CartPricerDeps bundles dependencies for the cart pricer.
type CartPricerDeps struct {
	Catalog repositories.CatalogRepository
}

type cartPricer struct {
	catalog repositories.CatalogRepository
}

// NewCartPricer wires a CartPricer backed by fresh catalog reads. Client
// supplied prices and names are never consulted.
func NewCartPricer(deps CartPricerDeps) (CartPricer, error) {
	if deps.Catalog == nil {
		return nil, ErrCatalogRepositoryMissing
	}
	return &cartPricer{catalog: deps.Catalog}, nil
}

func (p *cartPricer) Price(ctx context.Context, lines []domain.CartLine) (PricedCart, error) {
	if p == nil || p.catalog == nil {
		return PricedCart{}, ErrCatalogRepositoryMissing
	}
	if len(lines) == 0 {
		return PricedCart{}, ErrInvalidInput
	}

	cart := PricedCart{
		Lines: make([]PricedLine, 0, len(lines)),
		Total: decimal.Zero,
	}

	for idx, line := range lines {
		if err := ctx.Err(); err != nil {
			return PricedCart{}, err
		}
		priced, err := p.priceLine(ctx, idx, line)
		if err != nil {
			return PricedCart{}, err
		}
		cart.Lines = append(cart.Lines, priced)
		cart.Total = cart.Total.Add(priced.Subtotal())
	}

	cart.Total = domain.RoundMoney(cart.Total)
	return cart, nil
}

func (p *cartPricer) priceLine(ctx context.Context, idx int, line domain.CartLine) (PricedLine, error) {
	productID := strings.TrimSpace(line.ProductID)
	variantID := strings.TrimSpace(line.VariantID)

	reject := func(reason LineRejectionReason) error {
		return &LineRejection{
			Line:      idx,
			ProductID: productID,
			VariantID: variantID,
			Reason:    reason,
		}
	}

	if line.Quantity <= 0 {
		return PricedLine{}, reject(LineRejectionInvalidQuantity)
	}
	if productID == "" {
		return PricedLine{}, reject(LineRejectionProductNotFound)
	}

	if variantID != "" {
		resolved, err := p.catalog.ResolveVariant(ctx, productID, variantID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return PricedLine{}, reject(LineRejectionVariantNotFound)
			}
			return PricedLine{}, err
		}
		if !resolved.Product.Active {
			return PricedLine{}, reject(LineRejectionInactiveProduct)
		}
		if resolved.Variant.Stock < line.Quantity {
			return PricedLine{}, reject(LineRejectionInsufficientStock)
		}
		variant := resolved.Variant
		color := resolved.Color
		return PricedLine{
			Kind:      PricedLineVariant,
			Quantity:  line.Quantity,
			UnitPrice: variant.Price,
			Product:   resolved.Product,
			Variant:   &variant,
			Color:     &color,
		}, nil
	}

	product, err := p.catalog.FindProduct(ctx, productID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return PricedLine{}, reject(LineRejectionProductNotFound)
		}
		return PricedLine{}, err
	}
	if !product.Active {
		return PricedLine{}, reject(LineRejectionInactiveProduct)
	}
	if product.Price == nil {
		// A variant-backed product ordered without a variant reference has no
		// flat price to charge against.
		return PricedLine{}, reject(LineRejectionVariantNotFound)
	}
	// Base products are not stock-tracked in this flow; stock lives on variants.
	return PricedLine{
		Kind:      PricedLineBaseProduct,
		Quantity:  line.Quantity,
		UnitPrice: *product.Price,
		Product:   product,
	}, nil
}
