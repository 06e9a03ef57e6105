// Package domain holds the value types shared by the delivery pipeline: send
// jobs, sending domains, suppression records, campaigns and the delivery log.
//
// Nothing here talks to a database, a broker or the network. Methods are
// limited to validation and derived values such as status computation and
// idempotency keys. The error taxonomy in errors.go is the one every layer
// wraps with %w so handlers can map failures to HTTP status codes.
package domain
