package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-social-claims.git/internal/claims"
	"github.com/ariefcatur/go-social-claims.git/internal/redisx"
	"github.com/ariefcatur/go-social-claims.git/internal/shopify"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const claimListLimit = 100

type APIStore interface {
	ShopByDomain(ctx context.Context, domain string) (*claims.Shop, error)
	UpdateIGConnection(ctx context.Context, shopID, igAccountID, igAccessToken string) error

	ListCampaigns(ctx context.Context, shopID string) ([]claims.Campaign, error)
	CreateCampaign(ctx context.Context, shopID string, in claims.NewCampaign) (*claims.Campaign, error)
	DeleteCampaign(ctx context.Context, shopID, campaignID string) error

	ListRules(ctx context.Context, shopID, campaignID string) ([]claims.MappingRule, error)
	CreateRule(ctx context.Context, shopID string, in claims.NewMappingRule) (*claims.MappingRule, error)
	DeleteRule(ctx context.Context, shopID, ruleID string) error

	ListClaims(ctx context.Context, shopID, campaignID string, limit int) ([]claims.Claim, error)
	GetClaim(ctx context.Context, shopID, claimID string) (*claims.Claim, error)
}

type ShopInvalidator interface {
	Invalidate(igAccountIDs ...string)
}

// ProductCatalog is satisfied by *shopify.Client.
type ProductCatalog interface {
	ProductVariants(ctx context.Context, shop claims.Shop, productID string) (*shopify.Product, error)
}

// APIHandler is the merchant admin API. Every route is scoped to the shop
// named by ?shop=<domain>.
type APIHandler struct {
	Store   APIStore
	Redis   redis.Cmdable   // optional claim cache
	Shops   ShopInvalidator // optional
	Catalog ProductCatalog  // optional
	Log     *zap.Logger
}

type shopKey struct{}

func (h *APIHandler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.shopScope)
		r.Get("/campaigns", h.listCampaigns)
		r.Post("/campaigns", h.createCampaign)
		r.Delete("/campaigns/{id}", h.deleteCampaign)
		r.Get("/campaigns/{id}/mapping-rules", h.listRules)
		r.Post("/mapping-rules", h.createRule)
		r.Delete("/mapping-rules/{id}", h.deleteRule)
		r.Get("/claims", h.listClaims)
		r.Get("/claims/{id}", h.getClaim)
		r.Post("/ig-connection", h.updateIGConnection)
		if h.Catalog != nil {
			r.Get("/product-variants/{productId}", h.productVariants)
		}
	})
}

func (h *APIHandler) shopScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		domain := strings.TrimSpace(r.URL.Query().Get("shop"))
		if domain == "" {
			writeError(w, http.StatusBadRequest, "missing shop parameter")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		shop, err := h.Store.ShopByDomain(ctx, domain)
		if errors.Is(err, claims.ErrShopNotFound) {
			writeError(w, http.StatusNotFound, "shop not found")
			return
		}
		if err != nil {
			h.internal(w, "load shop", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), shopKey{}, *shop)))
	})
}

func shopFrom(ctx context.Context) claims.Shop {
	s, _ := ctx.Value(shopKey{}).(claims.Shop)
	return s
}

func (h *APIHandler) internal(w http.ResponseWriter, what string, err error) {
	h.Log.Error(what, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// idParam returns the {id} path value when it is a well-formed uuid.
func idParam(r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

func (h *APIHandler) listCampaigns(w http.ResponseWriter, r *http.Request) {
	cs, err := h.Store.ListCampaigns(r.Context(), shopFrom(r.Context()).ID)
	if err != nil {
		h.internal(w, "list campaigns", err)
		return
	}
	if cs == nil {
		cs = []claims.Campaign{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": cs})
}

type createCampaignReq struct {
	Name            string `json:"name"`
	HoldTimeMinutes int    `json:"holdTimeMinutes"`
	PerPersonLimit  *int   `json:"perPersonLimit"`
}

func (h *APIHandler) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}
	if req.HoldTimeMinutes < 0 {
		writeError(w, http.StatusBadRequest, "holdTimeMinutes must not be negative")
		return
	}
	if req.HoldTimeMinutes == 0 {
		req.HoldTimeMinutes = claims.DefaultHoldMinutes
	}
	c, err := h.Store.CreateCampaign(r.Context(), shopFrom(r.Context()).ID, claims.NewCampaign{
		Name:            req.Name,
		HoldTimeMinutes: req.HoldTimeMinutes,
		PerPersonLimit:  req.PerPersonLimit,
	})
	if err != nil {
		h.internal(w, "create campaign", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"campaign": c})
}

func (h *APIHandler) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	err := h.Store.DeleteCampaign(r.Context(), shopFrom(r.Context()).ID, id)
	if errors.Is(err, claims.ErrCampaignNotFound) {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		h.internal(w, "delete campaign", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *APIHandler) listRules(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	rules, err := h.Store.ListRules(r.Context(), shopFrom(r.Context()).ID, id)
	if err != nil {
		h.internal(w, "list mapping rules", err)
		return
	}
	if rules == nil {
		rules = []claims.MappingRule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

type createRuleReq struct {
	CampaignID     string          `json:"campaignId"`
	Strategy       claims.Strategy `json:"strategy"`
	TriggerPattern string          `json:"triggerPattern"`
	VariantID      string          `json:"shopifyVariantId"`
	ProductID      string          `json:"shopifyProductId"`
	SKU            string          `json:"sku"`
	SequentialID   *int64          `json:"sequentialId"`
}

func (r createRuleReq) validate() error {
	if r.CampaignID == "" || r.Strategy == "" || strings.TrimSpace(r.TriggerPattern) == "" {
		return errors.New("missing required fields")
	}
	if _, err := uuid.Parse(r.CampaignID); err != nil {
		return errors.New("invalid campaignId")
	}
	if !r.Strategy.Valid() {
		return fmt.Errorf("unknown strategy %q", r.Strategy)
	}
	switch r.Strategy {
	case claims.StrategySequentialID:
		if r.SequentialID == nil {
			return errors.New("sequentialId is required for SEQUENTIAL_ID rules")
		}
	case claims.StrategySKU:
		if r.SKU == "" {
			return errors.New("sku is required for SKU rules")
		}
	}
	return nil
}

func (h *APIHandler) createRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.Strategy = claims.Strategy(strings.ToUpper(string(req.Strategy)))
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule, err := h.Store.CreateRule(r.Context(), shopFrom(r.Context()).ID, claims.NewMappingRule{
		CampaignID:     req.CampaignID,
		Strategy:       req.Strategy,
		TriggerPattern: req.TriggerPattern,
		VariantID:      req.VariantID,
		ProductID:      req.ProductID,
		SKU:            req.SKU,
		SequentialID:   req.SequentialID,
	})
	if errors.Is(err, claims.ErrCampaignNotFound) {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		h.internal(w, "create mapping rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rule": rule})
}

func (h *APIHandler) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, "mapping rule not found")
		return
	}
	err := h.Store.DeleteRule(r.Context(), shopFrom(r.Context()).ID, id)
	if errors.Is(err, claims.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "mapping rule not found")
		return
	}
	if err != nil {
		h.internal(w, "delete mapping rule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *APIHandler) listClaims(w http.ResponseWriter, r *http.Request) {
	campaignID := r.URL.Query().Get("campaignId")
	if campaignID != "" {
		if _, err := uuid.Parse(campaignID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid campaignId")
			return
		}
	}
	cs, err := h.Store.ListClaims(r.Context(), shopFrom(r.Context()).ID, campaignID, claimListLimit)
	if err != nil {
		h.internal(w, "list claims", err)
		return
	}
	if cs == nil {
		cs = []claims.Claim{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": cs})
}

// getClaim serves from the Redis cache when possible. Only claims in a
// terminal status are cached since nothing changes them afterwards.
func (h *APIHandler) getClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, "claim not found")
		return
	}
	shop := shopFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	key := fmt.Sprintf(redisx.KeyClaimStatus, id)
	if h.Redis != nil {
		if b, err := h.Redis.Get(ctx, key).Bytes(); err == nil {
			var c claims.Claim
			if json.Unmarshal(b, &c) == nil && c.ShopID == shop.ID {
				writeJSON(w, http.StatusOK, map[string]any{"claim": c})
				return
			}
		}
	}

	// 2) fallback DB
	c, err := h.Store.GetClaim(ctx, shop.ID, id)
	if errors.Is(err, claims.ErrClaimNotFound) {
		writeError(w, http.StatusNotFound, "claim not found")
		return
	}
	if err != nil {
		h.internal(w, "get claim", err)
		return
	}
	if h.Redis != nil && c.Status.Terminal() {
		if b, err := json.Marshal(c); err == nil {
			_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"claim": c})
}

type igConnectionReq struct {
	IGAccountID   string `json:"igAccountId"`
	IGAccessToken string `json:"igAccessToken"`
}

func (h *APIHandler) updateIGConnection(w http.ResponseWriter, r *http.Request) {
	var req igConnectionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.IGAccountID == "" || req.IGAccessToken == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}
	shop := shopFrom(r.Context())
	if err := h.Store.UpdateIGConnection(r.Context(), shop.ID, req.IGAccountID, req.IGAccessToken); err != nil {
		h.internal(w, "update ig connection", err)
		return
	}
	if h.Shops != nil {
		h.Shops.Invalidate(shop.IGAccountID, req.IGAccountID)
	}
	h.Log.Info("instagram account connected", zap.String("shop_id", shop.ID), zap.String("ig_account_id", req.IGAccountID))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *APIHandler) productVariants(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	if productID == "" {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	p, err := h.Catalog.ProductVariants(r.Context(), shopFrom(r.Context()), productID)
	if err != nil {
		h.internal(w, "fetch product variants", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product":  map[string]string{"id": p.ID, "title": p.Title},
		"variants": p.Variants,
	})
}
