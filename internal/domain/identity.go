package domain

import (
	"fmt"
	"strings"
	"time"
)

// DomainStatus is derived from the three verification booleans. It is never
// hand-set: ComputeDomainStatus is the only producer.
type DomainStatus string

const (
	DomainPending           DomainStatus = "pending"
	DomainPartiallyVerified DomainStatus = "partially_verified"
	DomainVerified          DomainStatus = "verified"
	DomainError             DomainStatus = "error"
)

// ComputeDomainStatus maps the verification booleans to a status:
// all true → verified, any true → partially_verified, none → pending.
func ComputeDomainStatus(dkim, spf, tracking bool) DomainStatus {
	switch {
	case dkim && spf && tracking:
		return DomainVerified
	case dkim || spf || tracking:
		return DomainPartiallyVerified
	default:
		return DomainPending
	}
}

// Owner identifies who a DomainIdentity belongs to. Exactly one of the two
// ids is set.
type Owner struct {
	UserID         string `json:"user_id,omitempty" db:"user_id"`
	OrganizationID string `json:"organization_id,omitempty" db:"organization_id"`
}

// Validate enforces the user xor organization rule.
func (o Owner) Validate() error {
	if (o.UserID == "") == (o.OrganizationID == "") {
		return fmt.Errorf("%w: owner must be exactly one of user or organization", ErrValidation)
	}
	return nil
}

// Key returns a stable string for locking and map lookups.
func (o Owner) Key() string {
	if o.OrganizationID != "" {
		return "org:" + o.OrganizationID
	}
	return "user:" + o.UserID
}

// Equal reports whether two owners are the same principal.
func (o Owner) Equal(other Owner) bool {
	return o.UserID == other.UserID && o.OrganizationID == other.OrganizationID
}

// DKIMKey holds the signing identity published for a domain.
type DKIMKey struct {
	Selector            string `json:"selector" db:"dkim_selector"`
	PublicKey           string `json:"public_key" db:"dkim_public_key"`
	EncryptedPrivateKey string `json:"-" db:"dkim_private_key"`
	Encrypted           bool   `json:"encrypted" db:"dkim_private_key_encrypted"`
}

// DomainIdentity is one sending domain and its verification state.
type DomainIdentity struct {
	ID               string       `json:"id" db:"id"`
	Domain           string       `json:"domain" db:"domain"`
	Owner            Owner        `json:"owner"`
	DKIM             DKIMKey      `json:"dkim"`
	DKIMVerified     bool         `json:"dkim_verified" db:"dkim_verified"`
	SPFVerified      bool         `json:"spf_verified" db:"spf_verified"`
	TrackingVerified bool         `json:"tracking_verified" db:"tracking_verified"`
	MXObserved       bool         `json:"mx_observed" db:"mx_observed"`
	Status           DomainStatus `json:"status" db:"status"`
	IsPrimary        bool         `json:"is_primary" db:"is_primary"`
	BounceToken      string       `json:"bounce_token" db:"bounce_token"`
	DKIMError        string       `json:"dkim_error,omitempty" db:"dkim_error"`
	SPFError         string       `json:"spf_error,omitempty" db:"spf_error"`
	TrackingError    string       `json:"tracking_error,omitempty" db:"tracking_error"`
	MXError          string       `json:"mx_error,omitempty" db:"mx_error"`
	LastCheckedAt    *time.Time   `json:"last_checked_at,omitempty" db:"last_checked_at"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

// RecomputeStatus refreshes Status from the verification booleans.
func (d *DomainIdentity) RecomputeStatus() {
	d.Status = ComputeDomainStatus(d.DKIMVerified, d.SPFVerified, d.TrackingVerified)
}

// ResetVerification clears every check, used when the DKIM key rotates.
func (d *DomainIdentity) ResetVerification() {
	d.DKIMVerified = false
	d.SPFVerified = false
	d.TrackingVerified = false
	d.MXObserved = false
	d.DKIMError, d.SPFError, d.TrackingError, d.MXError = "", "", "", ""
	d.RecomputeStatus()
}

// DNSRecord is a record the owner must publish.
type DNSRecord struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// NormalizeDomain lowercases and trims a hostname, dropping a trailing dot.
func NormalizeDomain(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the normalized domain part of an address, or "".
func EmailDomain(email string) string {
	email = NormalizeEmail(email)
	if i := strings.LastIndex(email, ">"); i >= 0 {
		email = email[:i]
	}
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return NormalizeDomain(email[at+1:])
}
