package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/osteele/liquid"

	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/ignite/mailpipe/internal/queue"
	"github.com/ignite/mailpipe/internal/service/sendgate"
)

// Deps are the collaborators the service needs. Templates may be nil when
// every campaign carries stored HTML.
type Deps struct {
	Campaigns   Repository
	Subscribers SubscriberStore
	Templates   TemplateStore
	Suppression Suppressor
	Gate        Gate
	Queue       Queue
}

// Settings tune dispatch pacing and job defaults.
type Settings struct {
	BatchSize          int
	BatchDelay         time.Duration
	UnsubscribeBaseURL string
	Attempts           int
	BackoffBase        time.Duration
}

// SettingsFromConfig builds Settings from configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		BatchSize:          cfg.Dispatch.BatchSize,
		BatchDelay:         cfg.Dispatch.BatchDelay(),
		UnsubscribeBaseURL: cfg.Dispatch.UnsubscribeBaseURL,
		Attempts:           cfg.Queue.DefaultAttempts,
		BackoffBase:        cfg.Queue.BackoffBase(),
	}
}

// Service implements campaign dispatch. All public methods are safe for
// concurrent use if the underlying collaborators are.
type Service struct {
	deps     Deps
	settings Settings
	engine   *liquid.Engine
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewService creates a campaign service.
func NewService(deps Deps, settings Settings) *Service {
	if settings.BatchSize <= 0 {
		settings.BatchSize = 100
	}
	if settings.BatchDelay < 0 {
		settings.BatchDelay = 0
	}
	return &Service{
		deps:     deps,
		settings: settings,
		engine:   liquid.NewEngine(),
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DispatchResult summarizes one dispatch.
type DispatchResult struct {
	CampaignID string   `json:"campaign_id"`
	Queued     int      `json:"queued"`
	SentInline int      `json:"sent_inline"`
	Suppressed int      `json:"suppressed"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	Total      int      `json:"total"`
	Errors     []string `json:"errors,omitempty"`

	errs *multierror.Error
}

// Err returns the recipient-level failures, or nil.
func (r *DispatchResult) Err() error { return r.errs.ErrorOrNil() }

func (r *DispatchResult) fail(email string, err error) {
	r.Failed++
	r.errs = multierror.Append(r.errs, fmt.Errorf("%s: %w", logger.RedactEmail(email), err))
	r.Errors = append(r.Errors, r.errs.Errors[len(r.errs.Errors)-1].Error())
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.deps.Campaigns.Get(ctx, id)
}

// Dispatch sends a campaign: every eligible, unsuppressed recipient gets one
// SingleEmail job. Campaign-level problems abort before anything is enqueued;
// recipient-level failures are collected in the result.
func (s *Service) Dispatch(ctx context.Context, campaignID string) (*DispatchResult, error) {
	c, err := s.deps.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	log := logger.With("campaign_id", c.ID)

	switch c.Status {
	case domain.CampaignSent, domain.CampaignCompleted, domain.CampaignCancelled:
		return nil, ErrAlreadySent
	}
	if (c.Subject == "" && c.TemplateID == "") || c.FromEmail == "" {
		return nil, s.abort(ctx, c, ErrMissingFields)
	}

	subject, html, text, err := s.resolveBody(ctx, c.TemplateID, c.Subject, c.HTMLContent, c.TextContent)
	if err != nil {
		return nil, s.abort(ctx, c, err)
	}
	if err := checkCompliance(html, text); err != nil {
		return nil, s.abort(ctx, c, err)
	}

	dec, err := s.deps.Gate.CheckSender(ctx, c.FromEmail, sendgate.Override{Owner: c.Owner()})
	if err != nil {
		return nil, err
	}
	if err := dec.Err(); err != nil {
		return nil, s.abort(ctx, c, err)
	}
	bounce, bounceToken := s.deps.Gate.BounceFor(ctx, c.FromEmail)

	eligible, skipped, err := s.resolveRecipients(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	result := &DispatchResult{CampaignID: c.ID, Skipped: skipped}

	emails := make([]string, len(eligible))
	for i, sub := range eligible {
		emails[i] = sub.Email
	}
	filter, err := s.deps.Suppression.BulkFilter(ctx, c.OrganizationID, emails)
	if err != nil {
		return nil, fmt.Errorf("suppression filter: %w", err)
	}
	recipients := eligible[:0:0]
	for _, sub := range eligible {
		if filter.Contains(sub.Email) {
			result.Suppressed++
			continue
		}
		recipients = append(recipients, sub)
	}
	result.Total = len(recipients)
	log.Info("recipients resolved", "eligible", len(eligible), "suppressed", result.Suppressed, "skipped", skipped)

	if len(recipients) == 0 {
		note := fmt.Sprintf("no eligible recipients (%d suppressed, %d ineligible)", result.Suppressed, skipped)
		if err := s.deps.Campaigns.Finish(ctx, c.ID, domain.CampaignCompleted, 0, note); err != nil {
			return nil, fmt.Errorf("finish campaign: %w", err)
		}
		log.Info("campaign completed without sends", "note", note)
		return result, nil
	}

	if err := s.deps.Campaigns.UpdateStatus(ctx, c.ID, domain.CampaignSending, ""); err != nil {
		return nil, fmt.Errorf("mark sending: %w", err)
	}

	r := newRenderer(s.engine, subject, html, text)
	size := s.settings.BatchSize
	for start := 0; start < len(recipients); start += size {
		if start > 0 {
			if err := s.sleep(ctx, s.settings.BatchDelay); err != nil {
				return result, err
			}
		}
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		for _, sub := range recipients[start:end] {
			s.enqueueRecipient(ctx, c, sub, r, bounce, bounceToken, result)
		}
		if err := s.deps.Campaigns.SaveProgress(ctx, c.ID, domain.DispatchProgress{Processed: end, Total: len(recipients)}); err != nil {
			log.Warn("save dispatch progress failed", "error", err)
		}
		log.Debug("batch enqueued", "processed", end, "total", len(recipients))
	}

	sent := result.Queued + result.SentInline
	note := ""
	if result.Failed > 0 {
		note = fmt.Sprintf("%d recipients failed to enqueue", result.Failed)
	}
	if err := s.deps.Campaigns.Finish(ctx, c.ID, domain.CampaignSent, sent, note); err != nil {
		return result, fmt.Errorf("finish campaign: %w", err)
	}
	log.Info("campaign dispatched",
		"queued", result.Queued, "sent_inline", result.SentInline, "failed", result.Failed, "suppressed", result.Suppressed)
	return result, nil
}

func (s *Service) enqueueRecipient(ctx context.Context, c *domain.Campaign, sub domain.Subscriber, r *renderer, bounce, bounceToken string, result *DispatchResult) {
	unsub := unsubscribeLink(s.settings.UnsubscribeBaseURL, c.ID, sub.ID, sub.Email)
	msg, err := r.render(recipientBindings(sub, unsub))
	if err != nil {
		result.fail(sub.Email, fmt.Errorf("render: %w", err))
		return
	}
	job := &domain.SendJob{
		Kind: domain.JobSingleEmail,
		Payload: domain.EmailPayload{
			To:             sub.Email,
			From:           c.FromEmail,
			FromName:       c.FromName,
			ReplyTo:        c.ReplyTo,
			Subject:        msg.Subject,
			HTML:           msg.HTML,
			Text:           msg.Text,
			CampaignID:     c.ID,
			SubscriberID:   sub.ID,
			TemplateID:     c.TemplateID,
			OrganizationID: c.OrganizationID,
			BounceAddress:  bounce,
			BounceToken:    bounceToken,
			Headers:        listUnsubscribeHeaders(unsub),
		},
	}
	res, err := s.deps.Queue.Submit(ctx, job, s.jobOptions(0))
	if err != nil || res.Outcome == queue.OutcomeFailed {
		if err == nil {
			err = res.Err
		}
		result.fail(sub.Email, err)
		return
	}
	if res.Outcome == queue.OutcomeSentInline {
		result.SentInline++
		return
	}
	result.Queued++
}

func listUnsubscribeHeaders(link string) map[string]string {
	if link == "" {
		return nil
	}
	return map[string]string{
		"List-Unsubscribe":      "<" + link + ">",
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}
}

func (s *Service) jobOptions(delay time.Duration) domain.JobOptions {
	return domain.JobOptions{
		Delay:    delay,
		Attempts: s.settings.Attempts,
		Backoff:  domain.Backoff{Base: s.settings.BackoffBase},
	}
}

// abort marks the campaign failed with the reason and returns err.
func (s *Service) abort(ctx context.Context, c *domain.Campaign, err error) error {
	if uerr := s.deps.Campaigns.UpdateStatus(ctx, c.ID, domain.CampaignFailed, err.Error()); uerr != nil {
		logger.Error("mark campaign failed", "campaign_id", c.ID, "error", uerr)
	}
	logger.Warn("campaign dispatch aborted", "campaign_id", c.ID, "error", err)
	return err
}

// resolveBody prefers the template when one is set and falls back to the
// stored content.
func (s *Service) resolveBody(ctx context.Context, templateID, subject, html, text string) (string, string, string, error) {
	if templateID != "" && s.deps.Templates != nil {
		tpl, err := s.deps.Templates.GetTemplate(ctx, templateID)
		switch {
		case err == nil:
			if subject == "" {
				subject = tpl.Subject
			}
			return subject, tpl.HTML, tpl.Text, nil
		case errors.Is(err, domain.ErrNotFound) && (html != "" || text != ""):
			logger.Warn("template missing, using stored content", "template_id", templateID)
		case errors.Is(err, domain.ErrNotFound):
			return "", "", "", fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
		default:
			return "", "", "", fmt.Errorf("load template: %w", err)
		}
	}
	if html == "" && text == "" {
		return "", "", "", ErrNoContent
	}
	if subject == "" {
		return "", "", "", ErrMissingFields
	}
	return subject, html, text, nil
}

// resolveRecipients unions explicit subscribers, groups and segments,
// deduplicated by subscriber id in that order. It returns the eligible
// subscribers and how many were dropped for status or preference.
func (s *Service) resolveRecipients(ctx context.Context, c *domain.Campaign) ([]domain.Subscriber, int, error) {
	var sources [][]domain.Subscriber
	if len(c.SubscriberIDs) > 0 {
		subs, err := s.deps.Subscribers.ByIDs(ctx, c.OrganizationID, c.SubscriberIDs)
		if err != nil {
			return nil, 0, err
		}
		sources = append(sources, subs)
	}
	if len(c.GroupIDs) > 0 {
		subs, err := s.deps.Subscribers.ByGroups(ctx, c.OrganizationID, c.GroupIDs)
		if err != nil {
			return nil, 0, err
		}
		sources = append(sources, subs)
	}
	if len(c.SegmentIDs) > 0 {
		subs, err := s.deps.Subscribers.BySegments(ctx, c.OrganizationID, c.SegmentIDs)
		if err != nil {
			return nil, 0, err
		}
		sources = append(sources, subs)
	}

	seen := make(map[string]struct{})
	var out []domain.Subscriber
	skipped := 0
	for _, list := range sources {
		for _, sub := range list {
			if _, dup := seen[sub.ID]; dup {
				continue
			}
			seen[sub.ID] = struct{}{}
			if sub.Status != domain.SubscriberSubscribed || sub.Email == "" {
				skipped++
				continue
			}
			if c.PreferenceCategory != "" && sub.OptedOutOf(c.PreferenceCategory) {
				skipped++
				continue
			}
			out = append(out, sub)
		}
	}
	return out, skipped, nil
}
