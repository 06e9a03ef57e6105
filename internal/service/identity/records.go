package identity

import (
	"fmt"

	"github.com/ignite/mailpipe/internal/domain"
)

// BuildDKIMRecord returns the TXT record carrying the public key.
func (s *Service) BuildDKIMRecord(d *domain.DomainIdentity) domain.DNSRecord {
	return domain.DNSRecord{
		Name:  d.DKIM.Selector + "._domainkey." + d.Domain,
		Type:  "TXT",
		Value: fmt.Sprintf("v=DKIM1; k=rsa; p=%s", d.DKIM.PublicKey),
	}
}

// BuildSPFRecord returns the SPF TXT record authorizing the sending relay.
func (s *Service) BuildSPFRecord(d *domain.DomainIdentity) domain.DNSRecord {
	return domain.DNSRecord{
		Name:  d.Domain,
		Type:  "TXT",
		Value: fmt.Sprintf("v=spf1 include:%s ~all", s.settings.SPFInclude),
	}
}

// BuildTrackingRecord returns the CNAME for click and open tracking.
func (s *Service) BuildTrackingRecord(d *domain.DomainIdentity) domain.DNSRecord {
	return domain.DNSRecord{
		Name:  "track." + d.Domain,
		Type:  "CNAME",
		Value: s.settings.TrackingHost,
	}
}

// BuildBounceAddress returns b+<token>@<bounce base domain>.
func (s *Service) BuildBounceAddress(d *domain.DomainIdentity) string {
	if d.BounceToken == "" {
		return ""
	}
	return "b+" + d.BounceToken + "@" + s.settings.BounceBaseDomain
}

// Records lists every record the owner must publish.
func (s *Service) Records(d *domain.DomainIdentity) []domain.DNSRecord {
	return []domain.DNSRecord{s.BuildDKIMRecord(d), s.BuildSPFRecord(d), s.BuildTrackingRecord(d)}
}
