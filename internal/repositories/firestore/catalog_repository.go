package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/camellia-shop/api/internal/domain"
	pfirestore "github.com/camellia-shop/api/internal/platform/firestore"
)

const productsCollection = "products"

type productDocument struct {
	Name      string          `firestore:"name"`
	Category  string          `firestore:"category"`
	Active    bool            `firestore:"active"`
	Price     *string         `firestore:"price,omitempty"`
	ImageURL  string          `firestore:"imageUrl,omitempty"`
	Colors    []colorDocument `firestore:"colors"`
	CreatedAt time.Time       `firestore:"createdAt"`
	UpdatedAt time.Time       `firestore:"updatedAt"`
}

type colorDocument struct {
	ID       string            `firestore:"id"`
	Name     string            `firestore:"name"`
	ImageURL string            `firestore:"imageUrl,omitempty"`
	Variants []variantDocument `firestore:"variants"`
}

type variantDocument struct {
	ID        string    `firestore:"id"`
	SizeKind  string    `firestore:"sizeKind"`
	SizeLabel string    `firestore:"sizeLabel,omitempty"`
	Band      string    `firestore:"band,omitempty"`
	Cup       string    `firestore:"cup,omitempty"`
	Price     string    `firestore:"price"`
	Stock     int       `firestore:"stock"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CatalogRepository reads product and variant state for pricing and stock checks.
type CatalogRepository struct {
	products *pfirestore.Collection[productDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository: firestore provider is required")
	}
	return &CatalogRepository{
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
	}, nil
}

// FindProduct fetches a single product by ID.
func (r *CatalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("catalog repository: product id is required")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProductDocument(productID, doc.Data)
}

// ResolveVariant fetches the variant together with its colour and owning product.
func (r *CatalogRepository) ResolveVariant(ctx context.Context, productID string, variantID string) (domain.ResolvedVariant, error) {
	if r == nil || r.products == nil {
		return domain.ResolvedVariant{}, errors.New("catalog repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	variantID = strings.TrimSpace(variantID)
	if productID == "" || variantID == "" {
		return domain.ResolvedVariant{}, errors.New("catalog repository: product id and variant id are required")
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.ResolvedVariant{}, err
	}
	product, err := decodeProductDocument(productID, doc.Data)
	if err != nil {
		return domain.ResolvedVariant{}, err
	}

	for _, color := range doc.Data.Colors {
		for _, variant := range color.Variants {
			if variant.ID != variantID {
				continue
			}
			decoded, err := decodeVariantDocument(color.ID, variant)
			if err != nil {
				return domain.ResolvedVariant{}, err
			}
			return domain.ResolvedVariant{
				Variant: decoded,
				Color: domain.Color{
					ID:        color.ID,
					ProductID: productID,
					Name:      color.Name,
					ImageURL:  color.ImageURL,
				},
				Product: product,
			}, nil
		}
	}

	return domain.ResolvedVariant{}, pfirestore.NotFoundError(
		"products.resolve_variant",
		fmt.Errorf("variant %s not found on product %s", variantID, productID),
	)
}

func decodeProductDocument(id string, doc productDocument) (domain.Product, error) {
	price, err := decodeAmountPtr("product.price", doc.Price)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:        id,
		Name:      doc.Name,
		Category:  doc.Category,
		Active:    doc.Active,
		Price:     price,
		ImageURL:  doc.ImageURL,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func decodeVariantDocument(colorID string, doc variantDocument) (domain.Variant, error) {
	price, err := decodeAmount("variant.price", doc.Price)
	if err != nil {
		return domain.Variant{}, err
	}
	size := domain.VariantSize{Kind: domain.SizeKind(doc.SizeKind)}
	switch size.Kind {
	case domain.SizeKindBandCup:
		size.Band = doc.Band
		size.Cup = doc.Cup
	default:
		size.Kind = domain.SizeKindLabel
		size.Label = doc.SizeLabel
	}
	return domain.Variant{
		ID:        doc.ID,
		ColorID:   colorID,
		Size:      size,
		Price:     price,
		Stock:     doc.Stock,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}
