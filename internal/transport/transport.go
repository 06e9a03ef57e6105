// Package transport hands finished messages to an email provider.
//
// Every provider implements Transport. Errors a provider says will never
// succeed are wrapped in PermanentError; the pipeline still retries them up
// to the job's attempt limit, but logs and metrics can tell them apart.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/ignite/mailpipe/internal/config"
)

// Message is one rendered email for one recipient.
type Message struct {
	To            string
	From          string
	FromName      string
	ReplyTo       string
	Subject       string
	HTML          string
	Text          string
	BounceAddress string
	Headers       map[string]string
	Tags          map[string]string
}

// SendResult is what a provider returns for an accepted message.
type SendResult struct {
	MessageID string
	Provider  string
	SentAt    time.Time
}

// Transport sends a single message. Implementations must be safe for
// concurrent use.
type Transport interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
	Name() string
}

// PermanentError marks a provider rejection that retrying will not fix.
type PermanentError struct {
	Provider string
	Err      error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent failure: %v", e.Provider, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

func validate(msg Message) error {
	if msg.To == "" || msg.From == "" {
		return &PermanentError{Provider: "transport", Err: errors.New("message needs both to and from")}
	}
	return nil
}

// fromHeader renders "Name <addr>" with RFC 5322 quoting.
func fromHeader(name, addr string) string {
	if name == "" {
		return addr
	}
	return (&mail.Address{Name: name, Address: addr}).String()
}

// New builds the transport named by cfg.Type.
func New(ctx context.Context, cfg config.TransportConfig) (Transport, error) {
	switch cfg.Type {
	case "ses":
		return NewSES(ctx, cfg.SES)
	case "mailgun":
		return NewMailgun(cfg.Mailgun)
	case "http":
		return NewHTTPRelay(cfg.HTTP)
	case "log", "":
		return NewLog(), nil
	default:
		return nil, fmt.Errorf("unknown transport type %q", cfg.Type)
	}
}
