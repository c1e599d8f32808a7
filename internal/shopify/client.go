package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-social-claims.git/internal/claims"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const variantGIDPrefix = "gid://shopify/ProductVariant/"

const variantQuery = `query getVariantById($id: ID!) {
  productVariant(id: $id) {
    id
    inventoryQuantity
  }
}`

var ErrAdminAPI = errors.New("shopify admin api error")

// Client talks to the Shopify Admin GraphQL API with the shop's offline token.
type Client struct {
	http    *http.Client
	version string
	tracer  trace.Tracer

	// Endpoint builds the GraphQL URL for a shop domain.
	Endpoint func(domain string) string
}

func NewClient(apiVersion string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	c := &Client{http: hc, version: apiVersion, tracer: otel.Tracer("shopify")}
	c.Endpoint = func(domain string) string {
		return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", domain, c.version)
	}
	return c
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type variantResponse struct {
	Data struct {
		ProductVariant *struct {
			ID                string `json:"id"`
			InventoryQuantity *int   `json:"inventoryQuantity"`
		} `json:"productVariant"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// GetVariant returns nil, nil when the variant does not exist.
func (c *Client) GetVariant(ctx context.Context, shop claims.Shop, variantID string) (*claims.Variant, error) {
	ctx, span := c.tracer.Start(ctx, "shopify.get_variant", trace.WithAttributes(
		attribute.String("shop.domain", shop.Domain),
		attribute.String("variant.id", variantID),
	))
	defer span.End()

	gid := variantID
	if !strings.HasPrefix(gid, "gid://") {
		gid = variantGIDPrefix + variantID
	}
	var out variantResponse
	if err := c.query(ctx, shop, graphqlRequest{Query: variantQuery, Variables: map[string]any{"id": gid}}, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get variant")
		return nil, err
	}
	if len(out.Errors) > 0 {
		err := fmt.Errorf("%w: %s", ErrAdminAPI, out.Errors[0].Message)
		span.RecordError(err)
		span.SetStatus(codes.Error, "get variant")
		return nil, err
	}
	pv := out.Data.ProductVariant
	if pv == nil {
		return nil, nil
	}
	v := &claims.Variant{VariantID: lastSegment(pv.ID)}
	if pv.InventoryQuantity != nil {
		v.InventoryQuantity = *pv.InventoryQuantity
	}
	span.SetAttributes(attribute.Int("variant.inventory", v.InventoryQuantity))
	return v, nil
}

func (c *Client) query(ctx context.Context, shop claims.Shop, q graphqlRequest, out any) error {
	body, err := json.Marshal(q)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(shop.Domain), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", shop.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("shopify request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrAdminAPI, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode shopify response: %w", err)
	}
	return nil
}

// CreateCheckout builds a cart permalink that drops the buyer straight into
// checkout with the variant preloaded. No Shopify call is made.
func (c *Client) CreateCheckout(_ context.Context, shop claims.Shop, req claims.CheckoutRequest) (claims.Checkout, error) {
	if shop.Domain == "" || req.VariantID == "" {
		return claims.Checkout{}, errors.New("checkout needs shop domain and variant")
	}
	qty := req.Quantity
	if qty < 1 {
		qty = 1
	}
	return claims.Checkout{
		Reference: "checkout-" + uuid.NewString(),
		URL:       fmt.Sprintf("https://%s/cart/%s:%d", shop.Domain, lastSegment(req.VariantID), qty),
	}, nil
}
