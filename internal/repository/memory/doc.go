// Package memory holds in-process repositories used in development mode
// (no DATABASE_URL) and by service tests. Every repository is safe for
// concurrent use and copies values in and out so callers never share state.
package memory
