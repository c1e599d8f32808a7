package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultGraphBase = "https://graph.facebook.com/v21.0"

var ErrGraphAPI = errors.New("graph api error")

// Client sends direct messages through the Instagram Graph API.
type Client struct {
	http   *http.Client
	base   string
	tracer trace.Tracer
}

func NewClient(graphBase string, hc *http.Client) *Client {
	if graphBase == "" {
		graphBase = DefaultGraphBase
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{http: hc, base: strings.TrimRight(graphBase, "/"), tracer: otel.Tracer("instagram")}
}

type sendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// SendMessage delivers text to recipientID from the business account. An
// empty accountID sends as "me".
func (c *Client) SendMessage(ctx context.Context, accountID, recipientID, text, accessToken string) error {
	ctx, span := c.tracer.Start(ctx, "instagram.send_message")
	defer span.End()

	if accountID == "" {
		accountID = "me"
	}
	var body sendRequest
	body.Recipient.ID = recipientID
	body.Message.Text = text
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/%s/messages?access_token=%s", c.base, url.PathEscape(accountID), url.QueryEscape(accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send message")
		// the url carries the token, keep it out of logs
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("send message: %w", uerr.Err)
		}
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%w: status %d: %s", ErrGraphAPI, resp.StatusCode, strings.TrimSpace(string(msg)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "send message")
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
