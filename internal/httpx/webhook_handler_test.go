package httpx

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ariefcatur/go-social-claims.git/internal/claims"
	"github.com/ariefcatur/go-social-claims.git/internal/instagram"
	"github.com/ariefcatur/go-social-claims.git/internal/intake"
	"go.uber.org/zap"
)

type fakeIngester struct {
	got []instagram.InboundMessage
	err error
}

func (f *fakeIngester) Ingest(_ context.Context, m instagram.InboundMessage) (*claims.Claim, error) {
	f.got = append(f.got, m)
	if f.err != nil {
		return nil, f.err
	}
	return &claims.Claim{ID: "c-" + m.MessageID}, nil
}

func newMetaRouter(in Ingester, secret string) http.Handler {
	r := NewRouter(zap.NewNop())
	(&MetaWebhookHandler{Intake: in, VerifyToken: "verify-me", AppSecret: secret, Log: zap.NewNop()}).Register(r)
	return r
}

func TestMetaWebhookVerify(t *testing.T) {
	r := newMetaRouter(&fakeIngester{}, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhooks/meta?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "1158201444" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhooks/meta?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403", rec.Code)
	}
}

const commentWebhook = `{"object":"instagram","entry":[{"id":"ig-1","changes":[
	{"field":"comments","value":{"id":"m1","text":"claim 3","from":{"id":"u1"}}},
	{"field":"comments","value":{"id":"m2","text":"claim 4","from":{"id":"u2"}}}]}]}`

func TestMetaWebhookReceive(t *testing.T) {
	in := &fakeIngester{}
	r := newMetaRouter(in, "app-secret")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/meta", strings.NewReader(commentWebhook))
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(sign("app-secret", []byte(commentWebhook))))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if len(in.got) != 2 || in.got[0].MessageID != "m1" || in.got[1].Channel != claims.ChannelComment {
		t.Fatalf("ingested = %+v", in.got)
	}
}

func TestMetaWebhookAcknowledgesIngestFailures(t *testing.T) {
	for _, err := range []error{intake.ErrDuplicateMessage, intake.ErrUnknownAccount, errors.New("db down")} {
		in := &fakeIngester{err: err}
		rec := httptest.NewRecorder()
		newMetaRouter(in, "").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/meta", strings.NewReader(commentWebhook)))
		if rec.Code != http.StatusOK {
			t.Fatalf("%v: code = %d, want 200", err, rec.Code)
		}
		if len(in.got) != 2 {
			t.Fatalf("%v: one failure stopped the batch", err)
		}
	}
}

func TestMetaWebhookRejectsBadSignatureAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/meta", strings.NewReader(commentWebhook))
	req.Header.Set("X-Hub-Signature-256", "sha256=00")
	newMetaRouter(&fakeIngester{}, "app-secret").ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	newMetaRouter(&fakeIngester{}, "").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/meta", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
}
