package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/distlock"
	"github.com/ignite/mailpipe/internal/pkg/logger"
)

// Settings are the platform values published records point at.
type Settings struct {
	BounceBaseDomain string
	SPFInclude       string
	TrackingHost     string
	Production       bool
	DNSTimeout       time.Duration
	LockTTL          time.Duration
}

// SettingsFromConfig pulls Settings out of the loaded configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		BounceBaseDomain: cfg.Domains.BounceBaseDomain,
		SPFInclude:       cfg.Domains.SPFInclude,
		TrackingHost:     cfg.Domains.TrackingHost,
		Production:       cfg.Policy.Production(),
		DNSTimeout:       cfg.Domains.DNSTimeout(),
		LockTTL:          cfg.Maintenance.LockTTL(),
	}
}

// Option customizes a Service.
type Option func(*Service)

// WithCipher enables encryption of DKIM private keys.
func WithCipher(c *KeyCipher) Option { return func(s *Service) { s.cipher = c } }

// WithOwnerFlagger propagates "has verified domain" to owner records.
func WithOwnerFlagger(f OwnerFlagger) Option { return func(s *Service) { s.flagger = f } }

// WithPublisher pushes records into a managed DNS zone on create and rotate.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithResolver replaces the system resolver.
func WithResolver(r Resolver) Option { return func(s *Service) { s.resolver = r } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// Service implements domain registration and verification. It is safe for
// concurrent use.
type Service struct {
	repo      Repository
	locks     distlock.Factory
	settings  Settings
	resolver  Resolver
	cipher    *KeyCipher
	flagger   OwnerFlagger
	publisher Publisher
	now       func() time.Time
}

// NewService wires the domain authority.
func NewService(repo Repository, locks distlock.Factory, settings Settings, opts ...Option) *Service {
	if settings.DNSTimeout <= 0 {
		settings.DNSTimeout = 10 * time.Second
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = 30 * time.Second
	}
	s := &Service{
		repo:     repo,
		locks:    locks,
		settings: settings,
		resolver: net.DefaultResolver,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SigningAvailable reports whether DKIM keys can be stored encrypted.
func (s *Service) SigningAvailable() bool { return s.cipher != nil }

// CreateDomain registers name for owner with a fresh DKIM key and bounce token.
func (s *Service) CreateDomain(ctx context.Context, name string, owner domain.Owner) (*domain.DomainIdentity, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if strings.HasSuffix(strings.TrimSpace(name), ".") {
		return nil, fmt.Errorf("%w: %q has a trailing dot", ErrInvalidDomain, name)
	}
	name = domain.NormalizeDomain(name)
	if !validHostname(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, name)
	}
	if _, err := s.repo.GetByDomain(ctx, name); err == nil {
		return nil, ErrDuplicateDomain
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup domain: %w", err)
	}

	token, err := randomHex(8)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	d := &domain.DomainIdentity{
		Domain:      name,
		Owner:       owner,
		BounceToken: token,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.applyNewKey(d, now); err != nil {
		return nil, err
	}
	d.ResetVerification()

	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	logger.Info("domain registered", "domain", d.Domain, "owner", owner.Key(), "selector", d.DKIM.Selector)
	s.publish(ctx, d)
	return d, nil
}

// RegenerateDKIM rotates the key pair and selector and resets verification.
func (s *Service) RegenerateDKIM(ctx context.Context, id string, owner domain.Owner) (*domain.DomainIdentity, error) {
	d, err := s.owned(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.applyNewKey(d, now); err != nil {
		return nil, err
	}
	d.ResetVerification()
	d.UpdatedAt = now
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("update domain: %w", err)
	}
	logger.Info("dkim key rotated", "domain", d.Domain, "selector", d.DKIM.Selector)
	s.publish(ctx, d)
	return d, nil
}

// applyNewKey generates key material and seals the private key. Without a
// cipher, production refuses and other environments store plaintext.
func (s *Service) applyNewKey(d *domain.DomainIdentity, now time.Time) error {
	if s.cipher == nil && s.settings.Production {
		return ErrEncryptionUnavailable
	}
	pair, err := generateDKIM(now)
	if err != nil {
		return err
	}
	d.DKIM = domain.DKIMKey{Selector: pair.Selector, PublicKey: pair.PublicKey}
	if s.cipher == nil {
		logger.Warn("storing DKIM private key unencrypted; set DKIM_ENCRYPTION_KEY", "domain", d.Domain)
		d.DKIM.EncryptedPrivateKey = string(pair.PrivateKeyPEM)
		return nil
	}
	sealed, err := s.cipher.Encrypt(pair.PrivateKeyPEM)
	if err != nil {
		return fmt.Errorf("encrypt dkim key: %w", err)
	}
	d.DKIM.EncryptedPrivateKey = sealed
	d.DKIM.Encrypted = true
	return nil
}

// PrivateKeyPEM returns the decrypted signing key of an identity.
func (s *Service) PrivateKeyPEM(d *domain.DomainIdentity) ([]byte, error) {
	if !d.DKIM.Encrypted {
		return []byte(d.DKIM.EncryptedPrivateKey), nil
	}
	if s.cipher == nil {
		return nil, ErrEncryptionUnavailable
	}
	return s.cipher.Decrypt(d.DKIM.EncryptedPrivateKey)
}

// VerifyDNS checks the published records for id, recomputes status and
// promotes the identity to primary if it is the owner's first verified domain.
func (s *Service) VerifyDNS(ctx context.Context, id string) (*domain.DomainIdentity, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.settings.DNSTimeout)
	rep := runChecks(checkCtx, s.resolver, d.Domain, d.DKIM.Selector, d.DKIM.PublicKey,
		s.settings.SPFInclude, s.settings.TrackingHost)
	cancel()

	wasVerified := d.Status == domain.DomainVerified
	now := s.now().UTC()
	d.DKIMVerified, d.DKIMError = rep.dkim.ok, rep.dkim.err
	d.SPFVerified, d.SPFError = rep.spf.ok, rep.spf.err
	d.TrackingVerified, d.TrackingError = rep.tracking.ok, rep.tracking.err
	d.MXObserved, d.MXError = rep.mx.ok, rep.mx.err
	d.LastCheckedAt = &now
	d.UpdatedAt = now
	d.RecomputeStatus()

	applied, err := s.repo.UpdateVerification(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("update domain verification: %w", err)
	}
	if !applied {
		// The key was rotated (or the identity removed) while DNS was checked.
		logger.Warn("verification result discarded, dkim key changed during check",
			"domain", d.Domain, "checked_selector", d.DKIM.Selector)
		return s.repo.Get(ctx, id)
	}
	logger.Info("domain verified",
		"domain", d.Domain, "status", d.Status,
		"dkim", d.DKIMVerified, "spf", d.SPFVerified, "tracking", d.TrackingVerified, "mx", d.MXObserved)

	if d.Status != domain.DomainVerified {
		return d, nil
	}
	if err := s.promoteIfFirst(ctx, d); err != nil {
		return nil, err
	}
	if !wasVerified && s.flagger != nil {
		if err := s.flagger.MarkHasVerifiedDomain(ctx, d.Owner); err != nil {
			logger.Warn("flag owner verified domain failed", "owner", d.Owner.Key(), "error", err)
		}
	}
	return d, nil
}

// promoteIfFirst makes d primary when the owner has no primary domain yet.
func (s *Service) promoteIfFirst(ctx context.Context, d *domain.DomainIdentity) error {
	if d.IsPrimary {
		return nil
	}
	siblings, err := s.repo.ListByOwner(ctx, d.Owner)
	if err != nil {
		return fmt.Errorf("list owner domains: %w", err)
	}
	for _, other := range siblings {
		if other.ID != d.ID && other.IsPrimary && other.Status == domain.DomainVerified {
			return nil
		}
	}
	if err := s.swapPrimary(ctx, d.Owner, d.ID); err != nil {
		if errors.Is(err, ErrPrimaryBusy) {
			logger.Warn("auto-promote skipped, primary change in progress", "domain", d.Domain)
			return nil
		}
		return err
	}
	d.IsPrimary = true
	logger.Info("domain auto-promoted to primary", "domain", d.Domain, "owner", d.Owner.Key())
	return nil
}

// SetPrimary makes id the owner's primary domain. Every other identity of the
// owner loses the flag in the same statement.
func (s *Service) SetPrimary(ctx context.Context, id string, owner domain.Owner) (*domain.DomainIdentity, error) {
	d, err := s.owned(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.DomainVerified {
		return nil, ErrNotVerified
	}
	if err := s.swapPrimary(ctx, owner, id); err != nil {
		return nil, err
	}
	d.IsPrimary = true
	return d, nil
}

func (s *Service) swapPrimary(ctx context.Context, owner domain.Owner, id string) error {
	lock := s.locks.New("primary-domain:"+owner.Key(), s.settings.LockTTL)
	err := distlock.WithLock(ctx, lock, func(ctx context.Context) error {
		return s.repo.SetPrimary(ctx, owner, id)
	})
	if errors.Is(err, distlock.ErrNotHeld) {
		return ErrPrimaryBusy
	}
	return err
}

// DeleteDomain removes an identity. Primary identities must be replaced first.
func (s *Service) DeleteDomain(ctx context.Context, id string, owner domain.Owner) error {
	d, err := s.owned(ctx, id, owner)
	if err != nil {
		return err
	}
	if d.IsPrimary {
		return ErrPrimaryDelete
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete domain: %w", err)
	}
	logger.Info("domain deleted", "domain", d.Domain, "owner", owner.Key())
	return nil
}

// Get returns an identity the owner holds.
func (s *Service) Get(ctx context.Context, id string, owner domain.Owner) (*domain.DomainIdentity, error) {
	return s.owned(ctx, id, owner)
}

// Lookup finds an identity by domain name regardless of owner.
func (s *Service) Lookup(ctx context.Context, name string) (*domain.DomainIdentity, error) {
	return s.repo.GetByDomain(ctx, domain.NormalizeDomain(name))
}

// List returns every identity of the owner.
func (s *Service) List(ctx context.Context, owner domain.Owner) ([]domain.DomainIdentity, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListByOwner(ctx, owner)
}

// ReverifyPending re-runs DNS checks for identities that are not yet verified.
// Individual failures are collected and do not stop the sweep.
func (s *Service) ReverifyPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.repo.ListUnverified(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list unverified domains: %w", err)
	}
	var result *multierror.Error
	checked := 0
	for _, d := range pending {
		if ctx.Err() != nil {
			result = multierror.Append(result, ctx.Err())
			break
		}
		if _, err := s.VerifyDNS(ctx, d.ID); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", d.Domain, err))
			continue
		}
		checked++
	}
	return checked, result.ErrorOrNil()
}

func (s *Service) owned(ctx context.Context, id string, owner domain.Owner) (*domain.DomainIdentity, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Owner.Equal(owner) {
		return nil, ErrNotOwner
	}
	return d, nil
}

func (s *Service) publish(ctx context.Context, d *domain.DomainIdentity) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, s.Records(d)); err != nil {
		logger.Warn("publish dns records failed", "domain", d.Domain, "error", err)
	}
}
