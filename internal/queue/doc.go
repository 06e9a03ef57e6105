// Package queue moves SendJobs from producers to workers.
//
// Two Backends exist. Durable keeps jobs in Redis and can be consumed by any
// number of worker processes; a job is owned by exactly one worker at a time
// through a leased "active" set, and jobs whose lease expires are requeued by
// the stalled-job watchdog. Degraded keeps jobs in process memory behind a
// single owner goroutine and drains them one at a time.
//
// Open picks the backend once at startup. Failover wraps it so that a slow or
// failing broker never surfaces to the caller: single emails are delivered
// inline and everything else is handed to an in-process Degraded queue.
package queue
