package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ariefcatur/go-social-claims.git/internal/claims"
	"github.com/ariefcatur/go-social-claims.git/internal/instagram"
	"github.com/ariefcatur/go-social-claims.git/internal/intake"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Ingester interface {
	Ingest(ctx context.Context, msg instagram.InboundMessage) (*claims.Claim, error)
}

// MetaWebhookHandler receives Instagram messaging and comment webhooks.
type MetaWebhookHandler struct {
	Intake      Ingester
	VerifyToken string
	AppSecret   string
	Log         *zap.Logger
}

func (h *MetaWebhookHandler) Register(r chi.Router) {
	r.Get("/webhooks/meta", h.verify)
	r.With(SignatureMiddleware("X-Hub-Signature-256", h.AppSecret, HexSHA256Signature)).
		Post("/webhooks/meta", h.receive)
}

func (h *MetaWebhookHandler) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := instagram.VerifyChallenge(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), h.VerifyToken)
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// receive always answers 200 once the body parses; per-message failures are
// logged so Meta does not redeliver the whole batch.
func (h *MetaWebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	msgs, err := instagram.ParseWebhook(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	for _, m := range msgs {
		log := h.Log.With(zap.String("message_id", m.MessageID), zap.String("ig_account_id", m.RecipientID))
		c, err := h.Intake.Ingest(r.Context(), m)
		switch {
		case errors.Is(err, intake.ErrDuplicateMessage):
			log.Debug("duplicate webhook message")
		case errors.Is(err, intake.ErrUnknownAccount):
			log.Info("no shop for instagram account")
		case err != nil && c != nil:
			log.Warn("claim stored but not dispatched", zap.String("claim_id", c.ID), zap.Error(err))
		case err != nil:
			log.Error("ingest message", zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
