package delivery_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/repository/memory"
	"github.com/ignite/mailpipe/internal/service/delivery"
	"github.com/ignite/mailpipe/internal/transport"
)

type countingTransport struct {
	calls atomic.Int32
	err   error
}

func (c *countingTransport) Name() string { return "counting" }

func (c *countingTransport) Send(_ context.Context, msg transport.Message) (transport.SendResult, error) {
	n := c.calls.Add(1)
	if c.err != nil {
		return transport.SendResult{}, c.err
	}
	return transport.SendResult{MessageID: msg.To + "-" + string(rune('0'+n)), Provider: "counting"}, nil
}

func job(attempts, max int) *domain.SendJob {
	return &domain.SendJob{
		ID:          "job-1",
		Kind:        domain.JobSingleEmail,
		Attempts:    attempts,
		MaxAttempts: max,
		Payload: domain.EmailPayload{
			To:           "reader@example.com",
			From:         "news@acme.test",
			Subject:      "Spring sale",
			HTML:         "<p>hi</p>",
			CampaignID:   "camp-1",
			SubscriberID: "sub-1",
		},
	}
}

func TestDeliverIsIdempotent(t *testing.T) {
	log := memory.NewDeliveryLog()
	tr := &countingTransport{}
	svc := delivery.NewService(log, tr)
	ctx := context.Background()

	first, err := svc.Deliver(ctx, job(0, 3))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, domain.DeliverySent, first.Entry.Status)

	second, err := svc.Deliver(ctx, job(0, 3))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Entry.MessageID, second.Entry.MessageID)

	assert.Equal(t, int32(1), tr.calls.Load())
	assert.Equal(t, 1, log.Len())
}

func TestDeliverConcurrentDuplicatesConverge(t *testing.T) {
	log := memory.NewDeliveryLog()
	svc := delivery.NewService(log, &countingTransport{})

	var wg sync.WaitGroup
	results := make([]*delivery.Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Deliver(context.Background(), job(0, 3))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, log.Len())
	ids := map[string]bool{}
	for _, r := range results {
		ids[r.Entry.MessageID] = true
	}
	assert.Len(t, ids, 1, "every caller sees the stored entry")
}

func TestDeliverFailureRetryableUntilFinalAttempt(t *testing.T) {
	log := memory.NewDeliveryLog()
	tr := &countingTransport{err: errors.New("connection refused")}
	svc := delivery.NewService(log, tr)
	ctx := context.Background()

	_, err := svc.Deliver(ctx, job(0, 3))
	require.Error(t, err)
	assert.Equal(t, 0, log.Len(), "no entry before the final attempt")

	_, err = svc.Deliver(ctx, job(2, 3))
	require.Error(t, err)
	require.Equal(t, 1, log.Len())

	entry, err := svc.Lookup(ctx, job(0, 3).Payload)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryFailed, entry.Status)
	assert.Contains(t, entry.Error, "connection refused")
	assert.Equal(t, 3, entry.Attempts)

	// a later job with the same key returns the recorded failure
	tr.err = nil
	res, err := svc.Deliver(ctx, job(0, 3))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, domain.DeliveryFailed, res.Entry.Status)
}

func TestDeliverPermanentErrorStillReturned(t *testing.T) {
	tr := &countingTransport{err: &transport.PermanentError{Provider: "x", Err: errors.New("rejected")}}
	svc := delivery.NewService(memory.NewDeliveryLog(), tr)
	_, err := svc.Deliver(context.Background(), job(0, 3))
	require.Error(t, err)
	assert.True(t, transport.IsPermanent(err))
}

func TestDeliverRejectsOtherKinds(t *testing.T) {
	svc := delivery.NewService(memory.NewDeliveryLog(), &countingTransport{})
	j := job(0, 3)
	j.Kind = domain.JobCampaignBatch
	_, err := svc.Deliver(context.Background(), j)
	assert.ErrorIs(t, err, domain.ErrValidation)

	j = job(0, 3)
	j.Payload.From = ""
	assert.ErrorIs(t, svc.Handle(context.Background(), j), domain.ErrValidation)
}

func TestTriggeredKeyUsesAutomationAndRecipient(t *testing.T) {
	log := memory.NewDeliveryLog()
	svc := delivery.NewService(log, &countingTransport{})
	ctx := context.Background()

	j := job(0, 1)
	j.Payload.CampaignID, j.Payload.SubscriberID = "", ""
	j.Payload.AutomationID = "auto-9"
	_, err := svc.Deliver(ctx, j)
	require.NoError(t, err)

	other := job(0, 1)
	other.Payload.CampaignID, other.Payload.SubscriberID = "", ""
	other.Payload.AutomationID = "auto-9"
	other.Payload.To = "Reader@Example.com"
	res, err := svc.Deliver(ctx, other)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}
