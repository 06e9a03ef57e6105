package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mailgun/mailgun-go/v3"

	"github.com/ignite/mailpipe/internal/config"
)

// Mailgun sends through the Mailgun messages API.
type Mailgun struct {
	mg mailgun.Mailgun
}

// NewMailgun builds a client for cfg.Domain.
func NewMailgun(cfg config.MailgunConfig) (*Mailgun, error) {
	if cfg.Domain == "" || cfg.APIKey == "" {
		return nil, errors.New("mailgun: domain and api_key are required")
	}
	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.BaseURL != "" {
		mg.SetAPIBase(cfg.BaseURL)
	}
	return &Mailgun{mg: mg}, nil
}

// Name implements Transport.
func (m *Mailgun) Name() string { return "mailgun" }

// Send implements Transport.
func (m *Mailgun) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := validate(msg); err != nil {
		return SendResult{}, err
	}

	out := m.mg.NewMessage(fromHeader(msg.FromName, msg.From), msg.Subject, msg.Text, msg.To)
	if msg.HTML != "" {
		out.SetHtml(msg.HTML)
	}
	if msg.ReplyTo != "" {
		out.SetReplyTo(msg.ReplyTo)
	}
	if msg.BounceAddress != "" {
		out.AddHeader("Return-Path", msg.BounceAddress)
	}
	for k, v := range msg.Headers {
		out.AddHeader(k, v)
	}
	for k, v := range msg.Tags {
		if v == "" {
			continue
		}
		if err := out.AddVariable(k, v); err != nil {
			return SendResult{}, &PermanentError{Provider: m.Name(), Err: err}
		}
	}

	_, id, err := m.mg.Send(ctx, out)
	if err != nil {
		return SendResult{}, classifyMailgun(err)
	}
	return SendResult{MessageID: id, Provider: m.Name(), SentAt: time.Now().UTC()}, nil
}

func classifyMailgun(err error) error {
	var unexpected *mailgun.UnexpectedResponseError
	if errors.As(err, &unexpected) {
		switch {
		case unexpected.Actual == http.StatusTooManyRequests, unexpected.Actual >= 500:
		case unexpected.Actual >= 400:
			return &PermanentError{Provider: "mailgun", Err: err}
		}
	}
	return fmt.Errorf("mailgun: send: %w", err)
}
