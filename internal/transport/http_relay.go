package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/pkg/httpretry"
)

// HTTPRelay posts messages as JSON to a relay endpoint.
type HTTPRelay struct {
	url    string
	apiKey string
	client httpretry.HTTPDoer
}

type relayRequest struct {
	To            string            `json:"to"`
	From          string            `json:"from"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	Subject       string            `json:"subject"`
	HTML          string            `json:"html,omitempty"`
	Text          string            `json:"text,omitempty"`
	BounceAddress string            `json:"bounce_address,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

type relayResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// NewHTTPRelay builds a relay client that retries 429 and 5xx responses.
func NewHTTPRelay(cfg config.HTTPConfig) (*HTTPRelay, error) {
	if cfg.URL == "" {
		return nil, errors.New("http relay: url is required")
	}
	base := &http.Client{Timeout: cfg.Timeout()}
	return &HTTPRelay{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: httpretry.NewRetryClient(base, httpretry.Options{MaxRetries: cfg.MaxRetries}),
	}, nil
}

// Name implements Transport.
func (h *HTTPRelay) Name() string { return "http" }

// Send implements Transport.
func (h *HTTPRelay) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := validate(msg); err != nil {
		return SendResult{}, err
	}
	payload, err := json.Marshal(relayRequest{
		To:            msg.To,
		From:          fromHeader(msg.FromName, msg.From),
		ReplyTo:       msg.ReplyTo,
		Subject:       msg.Subject,
		HTML:          msg.HTML,
		Text:          msg.Text,
		BounceAddress: msg.BounceAddress,
		Headers:       msg.Headers,
		Tags:          msg.Tags,
	})
	if err != nil {
		return SendResult{}, &PermanentError{Provider: h.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, &PermanentError{Provider: h.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("http relay: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var out relayResponse
	_ = json.Unmarshal(body, &out)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return SendResult{MessageID: out.MessageID, Provider: h.Name(), SentAt: time.Now().UTC()}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return SendResult{}, &PermanentError{Provider: h.Name(), Err: fmt.Errorf("status %d: %s", resp.StatusCode, out.Error)}
	default:
		return SendResult{}, fmt.Errorf("http relay: status %d: %s", resp.StatusCode, out.Error)
	}
}
