package campaign

import (
	"context"
	"fmt"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/ignite/mailpipe/internal/queue"
	"github.com/ignite/mailpipe/internal/service/sendgate"
)

// TriggeredEmail is the "send templated email" automation action.
type TriggeredEmail struct {
	AutomationID   string            `json:"automation_id"`
	OrganizationID string            `json:"organization_id,omitempty"`
	SubscriberID   string            `json:"subscriber_id,omitempty"`
	To             string            `json:"to"`
	FirstName      string            `json:"first_name,omitempty"`
	LastName       string            `json:"last_name,omitempty"`
	From           string            `json:"from"`
	FromName       string            `json:"from_name,omitempty"`
	ReplyTo        string            `json:"reply_to,omitempty"`
	TemplateID     string            `json:"template_id,omitempty"`
	Subject        string            `json:"subject,omitempty"`
	HTML           string            `json:"html,omitempty"`
	Text           string            `json:"text,omitempty"`
	Priority       int               `json:"priority,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Override       sendgate.Override `json:"-"`
}

// TriggeredResult reports what happened to a triggered email.
type TriggeredResult struct {
	Suppressed bool                `json:"suppressed"`
	Enqueue    queue.EnqueueResult `json:"enqueue"`
}

// SendTriggered checks suppression and the send gate, personalizes the
// template and submits one SingleEmail job. A suppressed recipient is not an
// error.
func (s *Service) SendTriggered(ctx context.Context, in TriggeredEmail) (*TriggeredResult, error) {
	in.To = domain.NormalizeEmail(in.To)
	if in.To == "" || in.From == "" || in.AutomationID == "" {
		return nil, fmt.Errorf("%w: triggered email needs automation_id, to and from", domain.ErrValidation)
	}

	suppressed, err := s.deps.Suppression.IsSuppressed(ctx, in.OrganizationID, in.To)
	if err != nil {
		return nil, fmt.Errorf("suppression check: %w", err)
	}
	if suppressed {
		logger.Info("triggered email suppressed", "automation_id", in.AutomationID, "to", in.To)
		return &TriggeredResult{Suppressed: true}, nil
	}

	if in.OrganizationID != "" {
		in.Override.Owner = domain.Owner{OrganizationID: in.OrganizationID}
	}
	dec, err := s.deps.Gate.CheckSender(ctx, in.From, in.Override)
	if err != nil {
		return nil, err
	}
	if err := dec.Err(); err != nil {
		return nil, err
	}

	subject, html, text, err := s.resolveBody(ctx, in.TemplateID, in.Subject, in.HTML, in.Text)
	if err != nil {
		return nil, err
	}
	sub := domain.Subscriber{ID: in.SubscriberID, Email: in.To, FirstName: in.FirstName, LastName: in.LastName}
	unsub := unsubscribeLink(s.settings.UnsubscribeBaseURL, "", in.SubscriberID, in.To)
	msg, err := newRenderer(s.engine, subject, html, text).render(recipientBindings(sub, unsub))
	if err != nil {
		return nil, fmt.Errorf("%w: render: %v", domain.ErrValidation, err)
	}

	headers := listUnsubscribeHeaders(unsub)
	for k, v := range in.Headers {
		if headers == nil {
			headers = make(map[string]string, len(in.Headers))
		}
		headers[k] = v
	}
	bounce, token := s.deps.Gate.BounceFor(ctx, in.From)
	job := &domain.SendJob{
		Kind: domain.JobSingleEmail,
		Payload: domain.EmailPayload{
			To:             in.To,
			From:           in.From,
			FromName:       in.FromName,
			ReplyTo:        in.ReplyTo,
			Subject:        msg.Subject,
			HTML:           msg.HTML,
			Text:           msg.Text,
			SubscriberID:   in.SubscriberID,
			AutomationID:   in.AutomationID,
			TemplateID:     in.TemplateID,
			OrganizationID: in.OrganizationID,
			BounceAddress:  bounce,
			BounceToken:    token,
			Headers:        headers,
		},
	}
	opts := s.jobOptions(0)
	opts.Priority = in.Priority
	res, err := s.deps.Queue.Submit(ctx, job, opts)
	if err != nil {
		return nil, err
	}
	if res.Outcome == queue.OutcomeFailed {
		return &TriggeredResult{Enqueue: res}, fmt.Errorf("%w: %s", ErrEnqueueFailed, res.Reason)
	}
	logger.Info("triggered email submitted",
		"automation_id", in.AutomationID, "to", in.To, "outcome", res.Outcome, "job_id", res.Handle.ID)
	return &TriggeredResult{Enqueue: res}, nil
}
