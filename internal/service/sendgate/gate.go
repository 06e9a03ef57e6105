// Package sendgate decides whether mail may be sent from a domain.
//
// The decision order is fixed: explicit overrides and global policy first,
// then the signing-infrastructure escape hatch, then identity state.
package sendgate

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonOverride            Reason = "override"
	ReasonPolicyAllow         Reason = "policy_allow_unverified"
	ReasonSigningUnavailable  Reason = "degraded_signing_unavailable"
	ReasonDomainNotRegistered Reason = "domain_not_registered"
	ReasonOwnerMismatch       Reason = "domain_owner_mismatch"
	ReasonVerified            Reason = "verified"
)

// ErrBlocked is returned by Decision.Err for denied sends.
var ErrBlocked = fmt.Errorf("%w: sending domain not allowed", domain.ErrUnauthorized)

// Identities is the part of the domain authority the gate reads.
type Identities interface {
	Lookup(ctx context.Context, name string) (*domain.DomainIdentity, error)
	SigningAvailable() bool
	BuildBounceAddress(d *domain.DomainIdentity) string
}

// Policy holds the environment switches.
type Policy struct {
	AllowUnverifiedSending      bool
	AllowWhenSigningUnavailable bool
}

// PolicyFromConfig maps configuration onto Policy.
func PolicyFromConfig(cfg config.PolicyConfig) Policy {
	return Policy{
		AllowUnverifiedSending:      cfg.AllowUnverifiedSending,
		AllowWhenSigningUnavailable: cfg.AllowWhenSigningUnavailable,
	}
}

// Override lets a trusted caller bypass identity checks for one send.
// Owner is the sending account; when set, the identity must belong to it.
type Override struct {
	AllowUnverified bool
	Owner           domain.Owner
}

// Decision is the gate's answer.
type Decision struct {
	Allowed  bool                   `json:"allowed"`
	Reason   Reason                 `json:"reason"`
	Domain   string                 `json:"domain"`
	Identity *domain.DomainIdentity `json:"-"`
}

// Err returns nil when allowed and an ErrBlocked wrap otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s (%s)", ErrBlocked, d.Domain, d.Reason)
}

// Gate is safe for concurrent use.
type Gate struct {
	ids    Identities
	policy Policy
}

// New builds a gate.
func New(ids Identities, policy Policy) *Gate {
	return &Gate{ids: ids, policy: policy}
}

// RequireVerifiedDomain applies, in order: (a) override or global policy,
// (b) signing infrastructure unavailable, (c) unknown domain, (d) identity
// owned by someone other than o.Owner, (e) not verified, (f) verified. A
// lookup failure other than not-found is returned as an error rather than a
// denial.
func (g *Gate) RequireVerifiedDomain(ctx context.Context, name string, o Override) (Decision, error) {
	name = domain.NormalizeDomain(name)
	dec := Decision{Domain: name}

	switch {
	case o.AllowUnverified:
		dec.Allowed, dec.Reason = true, ReasonOverride
		return dec, nil
	case g.policy.AllowUnverifiedSending:
		dec.Allowed, dec.Reason = true, ReasonPolicyAllow
		return dec, nil
	}

	if !g.ids.SigningAvailable() && g.policy.AllowWhenSigningUnavailable {
		logger.Error("SEND GATE DEGRADED: signing keys unavailable, allowing unverified send",
			"domain", name, "reason", ReasonSigningUnavailable)
		dec.Allowed, dec.Reason = true, ReasonSigningUnavailable
		return dec, nil
	}

	ident, err := g.ids.Lookup(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		dec.Reason = ReasonDomainNotRegistered
		return dec, nil
	}
	if err != nil {
		return dec, fmt.Errorf("lookup sending domain: %w", err)
	}
	if o.Owner != (domain.Owner{}) && !ident.Owner.Equal(o.Owner) {
		logger.Warn("sender domain belongs to another account",
			"domain", name, "sender", o.Owner.Key(), "owner", ident.Owner.Key())
		dec.Reason = ReasonOwnerMismatch
		return dec, nil
	}
	dec.Identity = ident
	if ident.Status != domain.DomainVerified {
		dec.Reason = Reason(ident.Status)
		return dec, nil
	}
	dec.Allowed, dec.Reason = true, ReasonVerified
	return dec, nil
}

// CheckSender runs RequireVerifiedDomain on the domain part of an address.
func (g *Gate) CheckSender(ctx context.Context, from string, o Override) (Decision, error) {
	name := domain.EmailDomain(from)
	if name == "" {
		return Decision{}, fmt.Errorf("%w: invalid from address %q", domain.ErrValidation, from)
	}
	return g.RequireVerifiedDomain(ctx, name, o)
}

// BounceFor returns the bounce address and token of the verified identity
// matching the sender's domain. Both are empty when there is none.
func (g *Gate) BounceFor(ctx context.Context, from string) (address, token string) {
	name := domain.EmailDomain(from)
	if name == "" {
		return "", ""
	}
	ident, err := g.ids.Lookup(ctx, name)
	if err != nil || ident.Status != domain.DomainVerified {
		return "", ""
	}
	return g.ids.BuildBounceAddress(ident), ident.BounceToken
}
