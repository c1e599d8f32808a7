package httpx

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

const maxWebhookBody = 1 << 20

// SignatureDecoder turns a signature header value into raw MAC bytes.
type SignatureDecoder func(header string) ([]byte, bool)

// Base64Signature decodes Shopify's X-Shopify-Hmac-SHA256.
func Base64Signature(v string) ([]byte, bool) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v))
	return b, err == nil
}

// HexSHA256Signature decodes Meta's "sha256=<hex>" X-Hub-Signature-256.
func HexSHA256Signature(v string) ([]byte, bool) {
	hexSig, ok := strings.CutPrefix(strings.TrimSpace(v), "sha256=")
	if !ok {
		return nil, false
	}
	b, err := hex.DecodeString(hexSig)
	return b, err == nil
}

// SignatureMiddleware rejects requests whose body does not carry a valid
// HMAC-SHA256 under secret. The body is restored for the next handler. An
// empty secret disables the check.
func SignatureMiddleware(header, secret string, decode SignatureDecoder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable body")
				return
			}
			got, ok := decode(r.Header.Get(header))
			if !ok || !hmac.Equal(got, sign(secret, body)) {
				writeError(w, http.StatusUnauthorized, "invalid signature")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

func sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
