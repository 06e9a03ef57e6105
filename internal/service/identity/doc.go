// Package identity owns sending domains: registration, DKIM key material,
// DNS verification and the per-owner primary flag.
//
// Status is always derived from the three verification booleans via
// domain.ComputeDomainStatus. Nothing in this package assigns it directly.
package identity
