package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailpipe/internal/domain"
)

func TestOpenWithoutClientIsDegraded(t *testing.T) {
	b := Open(context.Background(), nil, fastOptions())
	defer b.(*Degraded).Close()
	assert.Equal(t, ModeDegraded, b.Mode())
}

func TestOpenReachableBrokerIsDurable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	b := Open(context.Background(), client, fastOptions())
	assert.Equal(t, ModeDurable, b.Mode())
}

func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestOpenUnreachableBrokerIsDegraded(t *testing.T) {
	opts := fastOptions()
	opts.ProbeTimeout = 200 * time.Millisecond
	b := Open(context.Background(), unreachableClient(t), opts)
	defer b.(*Degraded).Close()
	assert.Equal(t, ModeDegraded, b.Mode())
}

// With the broker down the caller still gets a handle and the job runs.
func TestBrokerDownJobStillProcessed(t *testing.T) {
	opts := fastOptions()
	opts.ProbeTimeout = 200 * time.Millisecond
	primary := Open(context.Background(), unreachableClient(t), opts)
	defer primary.(*Degraded).Close()

	var processed int32
	handler := func(ctx context.Context, job *domain.SendJob) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}
	f := Assemble(primary, handler, opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.DrainFallback(ctx, handler)

	res, err := f.Submit(ctx, campaignJob("cmp-1"), domain.JobOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, OutcomeFailed, res.Outcome)
	assert.NotEmpty(t, res.Handle.ID)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&processed) == 1 }, time.Second, 5*time.Millisecond)
}

func TestAssembleDurableGetsFallback(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	f := Assemble(NewDurable(client, fastOptions()), nil, fastOptions())
	require.NotNil(t, f.fallback)
	defer f.fallback.Close()
	assert.Equal(t, ModeDurable, f.Mode())
}
