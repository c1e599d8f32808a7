package instagram

import (
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-social-claims.git/internal/claims"
)

// InboundMessage is one customer message pulled out of a Meta webhook.
type InboundMessage struct {
	Channel      claims.Channel
	SenderID     string
	SenderHandle string
	RecipientID  string // the shop's IG business account
	MessageID    string
	Text         string
}

type webhookBody struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string `json:"id"`
		Messaging []struct {
			Sender    struct{ ID string } `json:"sender"`
			Recipient struct{ ID string } `json:"recipient"`
			Message   *struct {
				MID     string `json:"mid"`
				Text    string `json:"text"`
				IsEcho  bool   `json:"is_echo"`
				ReplyTo *struct {
					Story *struct {
						ID string `json:"id"`
					} `json:"story"`
				} `json:"reply_to"`
			} `json:"message"`
		} `json:"messaging"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				ID   string `json:"id"`
				Text string `json:"text"`
				From *struct {
					ID       string `json:"id"`
					Username string `json:"username"`
				} `json:"from"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWebhook extracts customer messages. Bodies for objects other than
// instagram or page yield no messages.
func ParseWebhook(body []byte) ([]InboundMessage, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if wb.Object != "instagram" && wb.Object != "page" {
		return nil, nil
	}

	var out []InboundMessage
	for _, e := range wb.Entry {
		for _, m := range e.Messaging {
			if m.Message == nil || m.Message.Text == "" || m.Message.IsEcho {
				continue
			}
			ch := claims.ChannelDM
			if m.Message.ReplyTo != nil && m.Message.ReplyTo.Story != nil {
				ch = claims.ChannelStoryReply
			}
			out = append(out, InboundMessage{
				Channel:     ch,
				SenderID:    m.Sender.ID,
				RecipientID: m.Recipient.ID,
				MessageID:   m.Message.MID,
				Text:        m.Message.Text,
			})
		}
		for _, c := range e.Changes {
			var ch claims.Channel
			switch c.Field {
			case "comments":
				ch = claims.ChannelComment
			case "live_comments":
				ch = claims.ChannelLiveComment
			default:
				continue
			}
			if c.Value.Text == "" {
				continue
			}
			msg := InboundMessage{
				Channel:     ch,
				SenderID:    "unknown",
				RecipientID: e.ID,
				MessageID:   c.Value.ID,
				Text:        c.Value.Text,
			}
			if c.Value.From != nil {
				if c.Value.From.ID != "" {
					msg.SenderID = c.Value.From.ID
				}
				msg.SenderHandle = c.Value.From.Username
			}
			out = append(out, msg)
		}
	}
	return out, nil
}

// VerifyChallenge answers the subscription handshake. ok is false when the
// mode or token do not match.
func VerifyChallenge(mode, token, challenge, verifyToken string) (string, bool) {
	if mode != "subscribe" || verifyToken == "" || token != verifyToken {
		return "", false
	}
	return challenge, true
}
