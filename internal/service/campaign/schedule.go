package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/ignite/mailpipe/internal/queue"
)

// Schedule enqueues a ScheduledCampaign job that fires at `at` and stores its
// id on the campaign. Rescheduling replaces the previous job.
func (s *Service) Schedule(ctx context.Context, campaignID string, at time.Time) (*domain.Campaign, error) {
	c, err := s.deps.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignScheduled {
		return nil, ErrNotSchedulable
	}
	if c.ScheduledJobID != "" {
		if _, err := s.deps.Queue.Remove(ctx, c.ScheduledJobID); err != nil {
			return nil, fmt.Errorf("replace scheduled job: %w", err)
		}
	}

	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	job := &domain.SendJob{
		Kind:    domain.JobScheduledCampaign,
		Payload: domain.EmailPayload{CampaignID: c.ID, OrganizationID: c.OrganizationID},
	}
	res, err := s.deps.Queue.Submit(ctx, job, s.jobOptions(delay))
	if err != nil {
		return nil, err
	}
	if res.Outcome == queue.OutcomeFailed {
		return nil, fmt.Errorf("%w: %s", ErrEnqueueFailed, res.Reason)
	}

	at = at.UTC()
	if err := s.deps.Campaigns.SetSchedule(ctx, c.ID, &at, res.Handle.ID, domain.CampaignScheduled); err != nil {
		return nil, fmt.Errorf("store schedule: %w", err)
	}
	c.ScheduledAt, c.ScheduledJobID, c.Status = &at, res.Handle.ID, domain.CampaignScheduled
	logger.Info("campaign scheduled", "campaign_id", c.ID, "at", at, "job_id", res.Handle.ID, "backend", res.Handle.Backend)
	return c, nil
}

// Cancel removes a scheduled campaign's job before it activates. Jobs that a
// worker already holds cannot be interrupted.
func (s *Service) Cancel(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	c, err := s.deps.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignScheduled {
		return nil, fmt.Errorf("%w: campaign is %s", domain.ErrConflict, c.Status)
	}
	if c.ScheduledJobID != "" {
		removed, err := s.deps.Queue.Remove(ctx, c.ScheduledJobID)
		if err != nil {
			return nil, err
		}
		if !removed {
			logger.Warn("scheduled job already gone", "campaign_id", c.ID, "job_id", c.ScheduledJobID)
		}
	}
	if err := s.deps.Campaigns.SetSchedule(ctx, c.ID, nil, "", domain.CampaignCancelled); err != nil {
		return nil, fmt.Errorf("clear schedule: %w", err)
	}
	c.ScheduledAt, c.ScheduledJobID, c.Status = nil, "", domain.CampaignCancelled
	logger.Info("campaign schedule cancelled", "campaign_id", c.ID)
	return c, nil
}

// EnqueueDispatch queues a CampaignBatch job so Dispatch runs on a worker.
func (s *Service) EnqueueDispatch(ctx context.Context, campaignID string) (queue.EnqueueResult, error) {
	c, err := s.deps.Campaigns.Get(ctx, campaignID)
	if err != nil {
		return queue.EnqueueResult{}, err
	}
	if c.IsTerminal() {
		return queue.EnqueueResult{}, ErrAlreadySent
	}
	job := &domain.SendJob{
		Kind:    domain.JobCampaignBatch,
		Payload: domain.EmailPayload{CampaignID: c.ID, OrganizationID: c.OrganizationID},
	}
	return s.deps.Queue.Submit(ctx, job, s.jobOptions(0))
}

// HandleJob runs campaign jobs from the queue. A scheduled job whose
// campaign was cancelled or already sent completes without doing anything.
func (s *Service) HandleJob(ctx context.Context, job *domain.SendJob) error {
	_, err := s.Dispatch(ctx, job.Payload.CampaignID)
	if errors.Is(err, ErrAlreadySent) {
		logger.Info("campaign job skipped", "campaign_id", job.Payload.CampaignID, "kind", job.Kind)
		return nil
	}
	return err
}
