package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ariefcatur/go-social-claims.git/internal/claims"
	"github.com/ariefcatur/go-social-claims.git/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type ComplianceStore interface {
	ShopByDomain(ctx context.Context, domain string) (*claims.Shop, error)
	RecordComplianceRequest(ctx context.Context, req claims.ComplianceRequest) error
	RedactCustomer(ctx context.Context, shopID, senderID string) ([]string, error)
	RedactShop(ctx context.Context, shopID string) ([]string, error)
}

// ComplianceHandler serves Shopify's mandatory privacy webhooks and the app
// uninstall notification.
type ComplianceHandler struct {
	Store     ComplianceStore
	APISecret string
	Redis     redis.Cmdable // optional claim status cache
	Log       *zap.Logger
}

type complianceBody struct {
	ShopDomain string `json:"shop_domain"`
	Customer   struct {
		ID    json.Number `json:"id"`
		Email string      `json:"email"`
	} `json:"customer"`
	DataRequest struct {
		ID json.Number `json:"id"`
	} `json:"data_request"`
	OrdersToRedact []json.Number `json:"orders_to_redact"`
	// Instagram-scoped ids the merchant asks us to forget.
	InstagramUserIDs []string `json:"instagram_user_ids"`
}

func (h *ComplianceHandler) Register(r chi.Router) {
	r.Head("/webhooks/shopify/compliance", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Group(func(r chi.Router) {
		r.Use(SignatureMiddleware("X-Shopify-Hmac-SHA256", h.APISecret, Base64Signature))
		r.Post("/webhooks/shopify/customers/data_request", h.handle(topicDataRequest, h.dataRequest))
		r.Post("/webhooks/shopify/customers/redact", h.handle(topicCustomerRedact, h.customerRedact))
		r.Post("/webhooks/shopify/shop/redact", h.handle(topicShopRedact, h.shopRedact))
		// single endpoint routed by X-Shopify-Topic
		r.Post("/webhooks/shopify/compliance", h.byTopic)
		r.Post("/webhooks/shopify/app_uninstalled", h.appUninstalled)
	})
}

const (
	topicDataRequest    = "customers/data_request"
	topicCustomerRedact = "customers/redact"
	topicShopRedact     = "shop/redact"
)

func (h *ComplianceHandler) byTopic(w http.ResponseWriter, r *http.Request) {
	switch topic := r.Header.Get("X-Shopify-Topic"); topic {
	case topicDataRequest:
		h.handle(topic, h.dataRequest)(w, r)
	case topicCustomerRedact:
		h.handle(topic, h.customerRedact)(w, r)
	case topicShopRedact:
		h.handle(topic, h.shopRedact)(w, r)
	default:
		writeError(w, http.StatusNotFound, "unknown topic")
	}
}

type complianceFunc func(ctx context.Context, shop claims.Shop, b complianceBody) error

// handle records every request before running the topic action.
func (h *ComplianceHandler) handle(topic string, fn complianceFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		var b complianceBody
		if err := json.Unmarshal(raw, &b); err != nil || b.ShopDomain == "" {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		log := h.Log.With(zap.String("topic", topic), zap.String("shop_domain", b.ShopDomain))

		shop, err := h.Store.ShopByDomain(r.Context(), b.ShopDomain)
		if err != nil {
			// unknown shops have nothing stored
			log.Info("compliance webhook for unknown shop", zap.Error(err))
			w.WriteHeader(http.StatusOK)
			return
		}
		ref := b.DataRequest.ID.String()
		if ref == "" {
			ref = b.Customer.ID.String()
		}
		if err := h.Store.RecordComplianceRequest(r.Context(), claims.ComplianceRequest{
			ShopID:        shop.ID,
			RequestType:   topic,
			RequestRef:    ref,
			CustomerEmail: b.Customer.Email,
			Payload:       raw,
		}); err != nil {
			log.Error("record compliance request", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "storage error")
			return
		}
		if err := fn(r.Context(), *shop, b); err != nil {
			log.Error("compliance action failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "storage error")
			return
		}
		log.Info("compliance webhook handled")
		w.WriteHeader(http.StatusOK)
	}
}

// dataRequest only records the request; exports are fulfilled by the merchant.
func (h *ComplianceHandler) dataRequest(context.Context, claims.Shop, complianceBody) error {
	return nil
}

func (h *ComplianceHandler) customerRedact(ctx context.Context, shop claims.Shop, b complianceBody) error {
	ids := b.InstagramUserIDs
	if id := b.Customer.ID.String(); id != "" {
		ids = append([]string{id}, ids...)
	}
	var total int
	for _, id := range ids {
		deleted, err := h.Store.RedactCustomer(ctx, shop.ID, id)
		if err != nil {
			return err
		}
		h.forgetClaims(ctx, deleted)
		total += len(deleted)
	}
	h.Log.Info("customer claims redacted", zap.String("shop_id", shop.ID), zap.Int("claims", total))
	return nil
}

func (h *ComplianceHandler) shopRedact(ctx context.Context, shop claims.Shop, _ complianceBody) error {
	deleted, err := h.Store.RedactShop(ctx, shop.ID)
	if err != nil {
		return err
	}
	h.forgetClaims(ctx, deleted)
	return nil
}

// forgetClaims drops cached statuses of deleted claims. Failures are logged
// only; the entries age out with the cache TTL.
func (h *ComplianceHandler) forgetClaims(ctx context.Context, ids []string) {
	if h.Redis == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = fmt.Sprintf(redisx.KeyClaimStatus, id)
	}
	if err := h.Redis.Del(ctx, keys...).Err(); err != nil {
		h.Log.Warn("drop cached claim status", zap.Int("claims", len(ids)), zap.Error(err))
	}
}

// appUninstalled erases everything held for the shop once the merchant
// removes the app. No compliance record is kept for it.
func (h *ComplianceHandler) appUninstalled(w http.ResponseWriter, r *http.Request) {
	var b struct {
		Domain string `json:"myshopify_domain"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if b.Domain == "" {
		b.Domain = r.Header.Get("X-Shopify-Shop-Domain")
	}
	log := h.Log.With(zap.String("shop_domain", b.Domain))

	shop, err := h.Store.ShopByDomain(r.Context(), b.Domain)
	if errors.Is(err, claims.ErrShopNotFound) {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		log.Error("load shop", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	deleted, err := h.Store.RedactShop(r.Context(), shop.ID)
	if err != nil {
		log.Error("remove uninstalled shop", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	h.forgetClaims(r.Context(), deleted)
	log.Info("shop uninstalled and cleaned up", zap.String("shop_id", shop.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
