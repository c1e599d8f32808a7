package httpx

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ariefcatur/go-social-claims.git/internal/claims"
	"github.com/ariefcatur/go-social-claims.git/internal/shopify"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// memStore backs both the merchant API and the compliance webhooks.
type memStore struct {
	shop       claims.Shop
	campaigns  []claims.Campaign
	rules      []claims.MappingRule
	claims     []claims.Claim
	compliance []claims.ComplianceRequest
	redacted   []string
	shopGone   bool
}

func (m *memStore) ShopByDomain(_ context.Context, domain string) (*claims.Shop, error) {
	if m.shopGone || domain != m.shop.Domain {
		return nil, claims.ErrShopNotFound
	}
	s := m.shop
	return &s, nil
}

func (m *memStore) UpdateIGConnection(_ context.Context, _ string, id, token string) error {
	m.shop.IGAccountID, m.shop.IGAccessToken = id, token
	return nil
}

func (m *memStore) ListCampaigns(context.Context, string) ([]claims.Campaign, error) {
	return m.campaigns, nil
}

func (m *memStore) CreateCampaign(_ context.Context, shopID string, in claims.NewCampaign) (*claims.Campaign, error) {
	c := claims.Campaign{ID: uuid.NewString(), ShopID: shopID, Name: in.Name, HoldTimeMinutes: in.HoldTimeMinutes, IsActive: true}
	m.campaigns = append(m.campaigns, c)
	return &c, nil
}

func (m *memStore) DeleteCampaign(_ context.Context, _ string, id string) error {
	for i, c := range m.campaigns {
		if c.ID == id {
			m.campaigns = append(m.campaigns[:i], m.campaigns[i+1:]...)
			return nil
		}
	}
	return claims.ErrCampaignNotFound
}

func (m *memStore) ListRules(_ context.Context, _ string, campaignID string) ([]claims.MappingRule, error) {
	var out []claims.MappingRule
	for _, r := range m.rules {
		if r.CampaignID == campaignID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) CreateRule(_ context.Context, _ string, in claims.NewMappingRule) (*claims.MappingRule, error) {
	found := false
	for _, c := range m.campaigns {
		found = found || c.ID == in.CampaignID
	}
	if !found {
		return nil, claims.ErrCampaignNotFound
	}
	r := claims.MappingRule{ID: uuid.NewString(), CampaignID: in.CampaignID, Strategy: in.Strategy,
		TriggerPattern: in.TriggerPattern, VariantID: in.VariantID, SKU: in.SKU, SequentialID: in.SequentialID}
	m.rules = append(m.rules, r)
	return &r, nil
}

func (m *memStore) DeleteRule(context.Context, string, string) error { return claims.ErrRuleNotFound }

func (m *memStore) ListClaims(_ context.Context, _ string, campaignID string, limit int) ([]claims.Claim, error) {
	var out []claims.Claim
	for _, c := range m.claims {
		if campaignID == "" || c.CampaignID == campaignID {
			out = append(out, c)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetClaim(_ context.Context, shopID, id string) (*claims.Claim, error) {
	for _, c := range m.claims {
		if c.ID == id && c.ShopID == shopID {
			return &c, nil
		}
	}
	return nil, claims.ErrClaimNotFound
}

func (m *memStore) RecordComplianceRequest(_ context.Context, req claims.ComplianceRequest) error {
	m.compliance = append(m.compliance, req)
	return nil
}

func (m *memStore) RedactCustomer(_ context.Context, _ string, senderID string) ([]string, error) {
	m.redacted = append(m.redacted, senderID)
	var ids []string
	kept := m.claims[:0]
	for _, c := range m.claims {
		if c.SenderID == senderID {
			ids = append(ids, c.ID)
			continue
		}
		kept = append(kept, c)
	}
	m.claims = kept
	return ids, nil
}

func (m *memStore) RedactShop(context.Context, string) ([]string, error) {
	m.shopGone = true
	var ids []string
	for _, c := range m.claims {
		ids = append(ids, c.ID)
	}
	m.claims = nil
	return ids, nil
}

// delRecorder records the keys passed to DEL.
type delRecorder struct {
	redis.Cmdable
	keys []string
}

func (d *delRecorder) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	d.keys = append(d.keys, keys...)
	return redis.NewIntResult(int64(len(keys)), nil)
}

type invalidations []string

func (i *invalidations) Invalidate(ids ...string) { *i = append(*i, ids...) }

func newAPI(store *memStore, inv *invalidations) http.Handler {
	r := NewRouter(zap.NewNop())
	(&APIHandler{Store: store, Shops: inv, Log: zap.NewNop()}).Register(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func demoStore() *memStore {
	return &memStore{shop: claims.Shop{ID: "shop-1", Domain: "demo.myshopify.com", IGAccountID: "old-ig"}}
}

func TestAPIRequiresKnownShop(t *testing.T) {
	h := newAPI(demoStore(), &invalidations{})
	if rec := do(t, h, http.MethodGet, "/api/campaigns", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing shop: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/campaigns?shop=other.myshopify.com", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown shop: %d", rec.Code)
	}
}

func TestAPICampaignAndRuleFlow(t *testing.T) {
	store := demoStore()
	h := newAPI(store, &invalidations{})

	rec := do(t, h, http.MethodPost, "/api/campaigns?shop=demo.myshopify.com", `{"name":"Friday live"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create campaign: %d %s", rec.Code, rec.Body)
	}
	var created struct{ Campaign claims.Campaign }
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	if created.Campaign.HoldTimeMinutes != claims.DefaultHoldMinutes {
		t.Fatalf("hold = %d", created.Campaign.HoldTimeMinutes)
	}

	body := `{"campaignId":"` + created.Campaign.ID + `","strategy":"sequential_id","triggerPattern":"#3","shopifyVariantId":"4482","sequentialId":3}`
	if rec := do(t, h, http.MethodPost, "/api/mapping-rules?shop=demo.myshopify.com", body); rec.Code != http.StatusCreated {
		t.Fatalf("create rule: %d %s", rec.Code, rec.Body)
	}
	if len(store.rules) != 1 || store.rules[0].Strategy != claims.StrategySequentialID {
		t.Fatalf("rules = %+v", store.rules)
	}

	rec = do(t, h, http.MethodGet, "/api/campaigns/"+created.Campaign.ID+"/mapping-rules?shop=demo.myshopify.com", "")
	var listed struct{ Rules []claims.MappingRule }
	_ = json.Unmarshal(rec.Body.Bytes(), &listed)
	if rec.Code != http.StatusOK || len(listed.Rules) != 1 {
		t.Fatalf("list rules: %d %s", rec.Code, rec.Body)
	}

	if rec := do(t, h, http.MethodDelete, "/api/campaigns/"+created.Campaign.ID+"?shop=demo.myshopify.com", ""); rec.Code != http.StatusOK {
		t.Fatalf("delete campaign: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/campaigns/not-a-uuid?shop=demo.myshopify.com", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("delete bad id: %d", rec.Code)
	}
}

func TestAPIRejectsInvalidRules(t *testing.T) {
	h := newAPI(demoStore(), &invalidations{})
	id := uuid.NewString()
	for name, body := range map[string]string{
		"missing pattern":  `{"campaignId":"` + id + `","strategy":"SKU"}`,
		"unknown strategy": `{"campaignId":"` + id + `","strategy":"COLOR","triggerPattern":"red"}`,
		"sku without sku":  `{"campaignId":"` + id + `","strategy":"SKU","triggerPattern":"abc"}`,
		"bad campaign id":  `{"campaignId":"x","strategy":"KEYWORD","triggerPattern":"abc"}`,
	} {
		if rec := do(t, h, http.MethodPost, "/api/mapping-rules?shop=demo.myshopify.com", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: code = %d", name, rec.Code)
		}
	}
	body := `{"campaignId":"` + id + `","strategy":"KEYWORD","triggerPattern":"red"}`
	if rec := do(t, h, http.MethodPost, "/api/mapping-rules?shop=demo.myshopify.com", body); rec.Code != http.StatusNotFound {
		t.Errorf("foreign campaign: code = %d", rec.Code)
	}
}

func TestAPIClaims(t *testing.T) {
	store := demoStore()
	id := uuid.NewString()
	store.claims = []claims.Claim{{ID: id, ShopID: "shop-1", Status: claims.StatusLinkSent}}
	h := newAPI(store, &invalidations{})

	rec := do(t, h, http.MethodGet, "/api/claims/"+id+"?shop=demo.myshopify.com", "")
	var got struct{ Claim claims.Claim }
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if rec.Code != http.StatusOK || got.Claim.Status != claims.StatusLinkSent {
		t.Fatalf("get claim: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodGet, "/api/claims/"+uuid.NewString()+"?shop=demo.myshopify.com", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing claim: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/claims?shop=demo.myshopify.com", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), id) {
		t.Fatalf("list claims: %d %s", rec.Code, rec.Body)
	}
}

func TestAPIIGConnectionInvalidatesDirectory(t *testing.T) {
	store := demoStore()
	inv := &invalidations{}
	h := newAPI(store, inv)

	rec := do(t, h, http.MethodPost, "/api/ig-connection?shop=demo.myshopify.com", `{"igAccountId":"new-ig","igAccessToken":"tok"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if store.shop.IGAccountID != "new-ig" {
		t.Fatalf("account = %q", store.shop.IGAccountID)
	}
	if len(*inv) != 2 || (*inv)[0] != "old-ig" || (*inv)[1] != "new-ig" {
		t.Fatalf("invalidated = %v", *inv)
	}
}

type fakeCatalog map[string]*shopify.Product

func (f fakeCatalog) ProductVariants(_ context.Context, _ claims.Shop, productID string) (*shopify.Product, error) {
	return f[productID], nil
}

func TestAPIProductVariants(t *testing.T) {
	r := NewRouter(zap.NewNop())
	(&APIHandler{Store: demoStore(), Catalog: fakeCatalog{
		"77": {ID: "77", Title: "Linen shirt", Variants: []shopify.ProductVariant{{ID: "1", SKU: "LS-S", Price: "29.00", InventoryQuantity: 4}}},
	}, Log: zap.NewNop()}).Register(r)

	rec := do(t, r, http.MethodGet, "/api/product-variants/77?shop=demo.myshopify.com", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body struct {
		Product  map[string]string        `json:"product"`
		Variants []shopify.ProductVariant `json:"variants"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Product["title"] != "Linen shirt" || len(body.Variants) != 1 || body.Variants[0].InventoryQuantity != 4 {
		t.Fatalf("body = %s", rec.Body.String())
	}

	if rec := do(t, r, http.MethodGet, "/api/product-variants/78?shop=demo.myshopify.com", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown product code = %d", rec.Code)
	}
}

func TestAppUninstalledRemovesShop(t *testing.T) {
	store := demoStore()
	r := NewRouter(zap.NewNop())
	(&ComplianceHandler{Store: store, Log: zap.NewNop()}).Register(r)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify/app_uninstalled", strings.NewReader(`{}`))
	req.Header.Set("X-Shopify-Shop-Domain", "demo.myshopify.com")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !store.shopGone {
		t.Fatalf("code = %d gone = %v", rec.Code, store.shopGone)
	}
	if len(store.compliance) != 0 {
		t.Fatalf("uninstall recorded as compliance request: %+v", store.compliance)
	}
}

func TestComplianceWebhooks(t *testing.T) {
	store := demoStore()
	r := NewRouter(zap.NewNop())
	(&ComplianceHandler{Store: store, APISecret: "shh", Log: zap.NewNop()}).Register(r)

	post := func(path, topic, body string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("X-Shopify-Hmac-SHA256", base64.StdEncoding.EncodeToString(sign("shh", []byte(body))))
		if topic != "" {
			req.Header.Set("X-Shopify-Topic", topic)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post("/webhooks/shopify/customers/data_request", "",
		`{"shop_domain":"demo.myshopify.com","customer":{"id":191167,"email":"a@b.c"},"data_request":{"id":9999}}`); code != http.StatusOK {
		t.Fatalf("data_request: %d", code)
	}
	if len(store.compliance) != 1 || store.compliance[0].RequestRef != "9999" {
		t.Fatalf("recorded = %+v", store.compliance)
	}

	if code := post("/webhooks/shopify/compliance", "customers/redact",
		`{"shop_domain":"demo.myshopify.com","customer":{"id":191167},"instagram_user_ids":["ig-user"]}`); code != http.StatusOK {
		t.Fatalf("customers/redact: %d", code)
	}
	if len(store.redacted) != 2 || store.redacted[0] != "191167" || store.redacted[1] != "ig-user" {
		t.Fatalf("redacted = %v", store.redacted)
	}

	if code := post("/webhooks/shopify/compliance", "orders/create", `{"shop_domain":"demo.myshopify.com"}`); code != http.StatusNotFound {
		t.Fatalf("unknown topic: %d", code)
	}

	if code := post("/webhooks/shopify/shop/redact", "", `{"shop_domain":"demo.myshopify.com"}`); code != http.StatusOK || !store.shopGone {
		t.Fatalf("shop/redact: %d gone=%v", code, store.shopGone)
	}
	// a second shop/redact finds nothing and is still acknowledged
	if code := post("/webhooks/shopify/shop/redact", "", `{"shop_domain":"demo.myshopify.com"}`); code != http.StatusOK {
		t.Fatalf("repeat shop/redact: %d", code)
	}

	// an uninstall for a shop that is already gone is acknowledged
	if code := post("/webhooks/shopify/app_uninstalled", "", `{"myshopify_domain":"demo.myshopify.com"}`); code != http.StatusOK {
		t.Fatalf("app_uninstalled: %d", code)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify/shop/redact", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned: %d", rec.Code)
	}
}

func TestRedactDropsCachedClaimStatus(t *testing.T) {
	store := demoStore()
	store.claims = []claims.Claim{
		{ID: "c-1", ShopID: "shop-1", SenderID: "ig-user", Status: claims.StatusPaid},
		{ID: "c-2", ShopID: "shop-1", SenderID: "other", Status: claims.StatusExpired},
	}
	cache := &delRecorder{}
	r := NewRouter(zap.NewNop())
	(&ComplianceHandler{Store: store, Redis: cache, Log: zap.NewNop()}).Register(r)

	post := func(path, body string) {
		t.Helper()
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: %d", path, rec.Code)
		}
	}

	post("/webhooks/shopify/customers/redact", `{"shop_domain":"demo.myshopify.com","instagram_user_ids":["ig-user"]}`)
	if len(cache.keys) != 1 || cache.keys[0] != "claim_status:c-1" {
		t.Fatalf("customer redact dropped %v", cache.keys)
	}

	post("/webhooks/shopify/shop/redact", `{"shop_domain":"demo.myshopify.com"}`)
	if len(cache.keys) != 2 || cache.keys[1] != "claim_status:c-2" {
		t.Fatalf("shop redact dropped %v", cache.keys)
	}
}

func TestAppUninstalledDropsCachedClaimStatus(t *testing.T) {
	store := demoStore()
	store.claims = []claims.Claim{{ID: "c-9", ShopID: "shop-1", SenderID: "x", Status: claims.StatusCanceled}}
	cache := &delRecorder{}
	r := NewRouter(zap.NewNop())
	(&ComplianceHandler{Store: store, Redis: cache, Log: zap.NewNop()}).Register(r)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify/app_uninstalled", strings.NewReader(`{"myshopify_domain":"demo.myshopify.com"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if len(cache.keys) != 1 || cache.keys[0] != "claim_status:c-9" {
		t.Fatalf("dropped %v", cache.keys)
	}
}
