package shopify

import (
	"context"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-social-claims.git/internal/claims"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const productGIDPrefix = "gid://shopify/Product/"

const productQuery = `query getProduct($id: ID!) {
  product(id: $id) {
    id
    title
    variants(first: 100) {
      edges {
        node {
          id
          title
          sku
          price
          inventoryQuantity
        }
      }
    }
  }
}`

type Product struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	Variants []ProductVariant `json:"variants"`
}

type ProductVariant struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	SKU               string `json:"sku"`
	Price             string `json:"price"`
	InventoryQuantity int    `json:"inventoryQuantity"`
}

type productResponse struct {
	Data struct {
		Product *struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Variants struct {
				Edges []struct {
					Node struct {
						ID                string `json:"id"`
						Title             string `json:"title"`
						SKU               string `json:"sku"`
						Price             string `json:"price"`
						InventoryQuantity *int   `json:"inventoryQuantity"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"variants"`
		} `json:"product"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ProductVariants lists up to 100 variants of a product so merchants can pick
// the variant a mapping rule points at. It returns nil, nil for an unknown
// product.
func (c *Client) ProductVariants(ctx context.Context, shop claims.Shop, productID string) (*Product, error) {
	ctx, span := c.tracer.Start(ctx, "shopify.product_variants", trace.WithAttributes(
		attribute.String("shop.domain", shop.Domain),
		attribute.String("product.id", productID),
	))
	defer span.End()

	var out productResponse
	req := graphqlRequest{Query: productQuery, Variables: map[string]any{"id": productGIDPrefix + lastSegment(productID)}}
	if err := c.query(ctx, shop, req, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "product variants")
		return nil, err
	}
	if len(out.Errors) > 0 {
		err := fmt.Errorf("%w: %s", ErrAdminAPI, out.Errors[0].Message)
		span.RecordError(err)
		span.SetStatus(codes.Error, "product variants")
		return nil, err
	}
	p := out.Data.Product
	if p == nil {
		return nil, nil
	}

	product := &Product{ID: lastSegment(p.ID), Title: p.Title, Variants: []ProductVariant{}}
	for _, e := range p.Variants.Edges {
		v := ProductVariant{
			ID:    lastSegment(e.Node.ID),
			Title: e.Node.Title,
			SKU:   e.Node.SKU,
			Price: e.Node.Price,
		}
		if e.Node.InventoryQuantity != nil {
			v.InventoryQuantity = *e.Node.InventoryQuantity
		}
		product.Variants = append(product.Variants, v)
	}
	return product, nil
}

// lastSegment strips a gid:// prefix down to the numeric id.
func lastSegment(id string) string {
	return id[strings.LastIndex(id, "/")+1:]
}
