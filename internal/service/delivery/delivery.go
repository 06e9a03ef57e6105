// Package delivery executes single-email jobs exactly once per idempotency
// key, as far as the delivery log can tell.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/ignite/mailpipe/internal/transport"
)

// ErrNotFound is returned by Log.FindByIdempotencyKey for unknown keys.
var ErrNotFound = fmt.Errorf("%w: delivery log entry", domain.ErrNotFound)

// Log is the delivery log store.
type Log interface {
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.DeliveryLogEntry, error)

	// Create inserts entry unless its key exists. It always returns the
	// stored entry and whether this call created it.
	Create(ctx context.Context, entry *domain.DeliveryLogEntry) (*domain.DeliveryLogEntry, bool, error)
}

// Result is what Deliver produced.
type Result struct {
	Entry     *domain.DeliveryLogEntry
	Duplicate bool
}

// Service sends single emails through a transport and records the outcome.
type Service struct {
	log       Log
	transport transport.Transport
	now       func() time.Time
}

// NewService builds the executor.
func NewService(log Log, t transport.Transport) *Service {
	return &Service{log: log, transport: t, now: time.Now}
}

// Deliver sends job once. A key already present in the log short-circuits to
// the stored result. Transport errors are returned so the queue retries; on
// the final attempt a failed entry is written first.
func (s *Service) Deliver(ctx context.Context, job *domain.SendJob) (*Result, error) {
	if job.Kind != domain.JobSingleEmail {
		return nil, fmt.Errorf("%w: delivery handles single emails, got %s", domain.ErrValidation, job.Kind)
	}
	p := job.Payload
	if p.To == "" || p.From == "" {
		return nil, fmt.Errorf("%w: email job needs to and from", domain.ErrValidation)
	}
	key := p.IdempotencyKey()

	existing, err := s.log.FindByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		logger.Info("duplicate delivery skipped", "job_id", job.ID, "key", key, "status", existing.Status)
		return &Result{Entry: existing, Duplicate: true}, nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("%w: delivery log lookup: %v", domain.ErrTransient, err)
	}

	entry := &domain.DeliveryLogEntry{
		IdempotencyKey: key,
		CampaignID:     p.CampaignID,
		SubscriberID:   p.SubscriberID,
		AutomationID:   p.AutomationID,
		Recipient:      domain.NormalizeEmail(p.To),
		Subject:        p.Subject,
		Attempts:       job.Attempts + 1,
	}

	res, sendErr := s.transport.Send(ctx, messageFor(p))
	if sendErr != nil {
		if job.FinalAttempt() {
			entry.Status = domain.DeliveryFailed
			entry.Error = sendErr.Error()
			entry.CreatedAt = s.now().UTC()
			if _, _, err := s.log.Create(ctx, entry); err != nil {
				logger.Error("record failed delivery", "key", key, "error", err)
			}
		}
		logger.Warn("delivery attempt failed",
			"job_id", job.ID, "to", p.To, "attempt", job.Attempts+1,
			"permanent", transport.IsPermanent(sendErr), "error", sendErr)
		return nil, fmt.Errorf("send via %s: %w", s.transport.Name(), sendErr)
	}

	entry.Status = domain.DeliverySent
	entry.MessageID = res.MessageID
	entry.CreatedAt = s.now().UTC()
	stored, created, err := s.log.Create(ctx, entry)
	if err != nil {
		// The provider accepted the message. Retrying would send it again.
		logger.Error("record sent delivery", "key", key, "message_id", res.MessageID, "error", err)
		return &Result{Entry: entry}, nil
	}
	if !created {
		logger.Warn("concurrent delivery detected", "key", key, "message_id", res.MessageID)
		return &Result{Entry: stored, Duplicate: true}, nil
	}
	logger.Info("email delivered", "job_id", job.ID, "to", p.To, "message_id", res.MessageID, "provider", s.transport.Name())
	return &Result{Entry: stored}, nil
}

// Handle adapts Deliver to the queue handler signature.
func (s *Service) Handle(ctx context.Context, job *domain.SendJob) error {
	_, err := s.Deliver(ctx, job)
	return err
}

// Lookup returns the log entry for a payload, if any.
func (s *Service) Lookup(ctx context.Context, p domain.EmailPayload) (*domain.DeliveryLogEntry, error) {
	return s.log.FindByIdempotencyKey(ctx, p.IdempotencyKey())
}

func messageFor(p domain.EmailPayload) transport.Message {
	return transport.Message{
		To:            p.To,
		From:          p.From,
		FromName:      p.FromName,
		ReplyTo:       p.ReplyTo,
		Subject:       p.Subject,
		HTML:          p.HTML,
		Text:          p.Text,
		BounceAddress: p.BounceAddress,
		Headers:       p.Headers,
		Tags: map[string]string{
			"campaign_id":   p.CampaignID,
			"subscriber_id": p.SubscriberID,
			"automation_id": p.AutomationID,
		},
	}
}
