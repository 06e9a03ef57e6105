package queue

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailpipe/internal/pkg/logger"
)

// Open probes the broker once and picks the backend for the lifetime of the
// process. A nil client or a failed ping yields a Degraded queue; the choice
// is not revisited.
func Open(ctx context.Context, client *redis.Client, opts Options) Backend {
	opts = opts.withDefaults()
	if client == nil {
		logger.Warn("queue running degraded for this process", "reason", "no broker configured")
		return NewDegraded(opts)
	}

	probeCtx, cancel := context.WithTimeout(ctx, opts.ProbeTimeout)
	defer cancel()
	if err := client.Ping(probeCtx).Err(); err != nil {
		logger.Warn("queue running degraded for this process",
			"reason", "broker unreachable at startup", "error", err, "probe_timeout", opts.ProbeTimeout)
		return NewDegraded(opts)
	}
	logger.Info("queue using durable broker", "prefix", opts.Prefix)
	return NewDurable(client, opts)
}

// Assemble wraps the chosen backend in a Failover. A Durable primary gets its
// own in-process fallback queue; a Degraded primary needs none.
func Assemble(primary Backend, inline Handler, opts Options) *Failover {
	var fallback *Degraded
	if primary.Mode() == ModeDurable {
		fallback = NewDegraded(opts)
	}
	return NewFailover(primary, fallback, inline, opts)
}
