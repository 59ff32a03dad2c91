package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/Vovarama1992/messenger-pos-bot/internal/ordering"
)

var ErrNoAccessToken = errors.New("messenger: page access token not configured")

// Client sends replies through the Graph API Send API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	log     *slog.Logger
}

// NewClient returns a Graph API client. With an empty token every send is
// a silent no-op.
func NewClient(baseURL, token string, log *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With("component", "messenger_client"),
	}
}

type recipient struct {
	ID string `json:"id"`
}

type sendRequest struct {
	Recipient     recipient   `json:"recipient"`
	MessagingType string      `json:"messaging_type"`
	Message       sendMessage `json:"message"`
}

type sendMessage struct {
	Text         string           `json:"text,omitempty"`
	QuickReplies []quickReplyItem `json:"quick_replies,omitempty"`
	Attachment   *attachment      `json:"attachment,omitempty"`
}

type quickReplyItem struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

type attachment struct {
	Type    string          `json:"type"`
	Payload templatePayload `json:"payload"`
}

type templatePayload struct {
	TemplateType string            `json:"template_type"`
	Elements     []templateElement `json:"elements"`
}

type templateElement struct {
	Title    string           `json:"title"`
	Subtitle string           `json:"subtitle,omitempty"`
	ImageURL string           `json:"image_url,omitempty"`
	Buttons  []templateButton `json:"buttons,omitempty"`
}

type templateButton struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

func (c *Client) SendText(ctx context.Context, psid, text string) error {
	return c.sendMessage(ctx, psid, sendMessage{Text: text})
}

func (c *Client) SendQuickReplies(ctx context.Context, psid, text string, replies []ordering.QuickReply) error {
	items := make([]quickReplyItem, 0, len(replies))
	for _, r := range replies {
		items = append(items, quickReplyItem{ContentType: "text", Title: r.Title, Payload: r.Payload})
	}
	return c.sendMessage(ctx, psid, sendMessage{Text: text, QuickReplies: items})
}

func (c *Client) SendCarousel(ctx context.Context, psid string, elements []ordering.CarouselElement) error {
	out := make([]templateElement, 0, len(elements))
	for _, e := range elements {
		buttons := make([]templateButton, 0, len(e.Buttons))
		for _, b := range e.Buttons {
			buttons = append(buttons, templateButton{Type: "postback", Title: b.Title, Payload: b.Payload})
		}
		out = append(out, templateElement{
			Title:    e.Title,
			Subtitle: e.Subtitle,
			ImageURL: e.ImageURL,
			Buttons:  buttons,
		})
	}

	return c.sendMessage(ctx, psid, sendMessage{
		Attachment: &attachment{
			Type:    "template",
			Payload: templatePayload{TemplateType: "generic", Elements: out},
		},
	})
}

func (c *Client) sendMessage(ctx context.Context, psid string, msg sendMessage) error {
	if c.token == "" {
		c.log.Debug("send skipped, no access token", "psid", psid)
		return nil
	}
	_, err := c.post(ctx, "/me/messages", sendRequest{
		Recipient:     recipient{ID: psid},
		MessagingType: "RESPONSE",
		Message:       msg,
	})
	return err
}

type persistentMenu struct {
	Locale                string           `json:"locale"`
	ComposerInputDisabled bool             `json:"composer_input_disabled"`
	CallToActions         []templateButton `json:"call_to_actions"`
}

// SetupProfile registers the Get Started button and the persistent menu,
// returning the Graph API response body.
func (c *Client) SetupProfile(ctx context.Context) (json.RawMessage, error) {
	if c.token == "" {
		return nil, ErrNoAccessToken
	}

	body := map[string]any{
		"get_started": map[string]string{"payload": ordering.PayloadGetStarted},
		"persistent_menu": []persistentMenu{{
			Locale: "default",
			CallToActions: []templateButton{
				{Type: "postback", Title: "Today's Menu", Payload: ordering.PayloadMenu},
				{Type: "postback", Title: "View Cart", Payload: ordering.PayloadViewCart},
				{Type: "postback", Title: "Checkout", Payload: ordering.PayloadCheckout},
				{Type: "postback", Title: "My Receipt", Payload: ordering.PayloadReceipt},
			},
		}},
	}

	resp, err := c.post(ctx, "/me/messenger_profile", body)
	if err != nil {
		return nil, err
	}
	c.log.Info("messenger profile configured")
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path + "?access_token=" + url.QueryEscape(c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// the url carries the token
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("graph api %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("graph api error: %s body=%s", resp.Status, respBody)
	}
	if !json.Valid(respBody) {
		return json.RawMessage(`{}`), nil
	}
	return respBody, nil
}
