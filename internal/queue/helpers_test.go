package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailpipe/internal/domain"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func fastOptions() Options {
	return Options{
		Prefix:       "test",
		BackoffBase:  2 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		AddTimeout:   50 * time.Millisecond,
	}
}

func newTestDurable(t *testing.T, clock *testClock) (*Durable, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	d := NewDurable(client, fastOptions())
	if clock != nil {
		d.now = clock.Now
	}
	return d, mr
}

func emailJob(to string) *domain.SendJob {
	return &domain.SendJob{
		Kind: domain.JobSingleEmail,
		Payload: domain.EmailPayload{
			To:         to,
			From:       "news@brand.com",
			Subject:    "Hello",
			HTML:       "<p>hi</p>",
			CampaignID: "cmp-1",
		},
	}
}

func campaignJob(id string) *domain.SendJob {
	return &domain.SendJob{Kind: domain.JobCampaignBatch, Payload: domain.EmailPayload{CampaignID: id}}
}
