package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/domain"
)

// route53API is the slice of the Route53 client the publisher calls.
type route53API interface {
	ChangeResourceRecordSets(ctx context.Context, in *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
}

// Route53Publisher upserts identity records into one hosted zone.
type Route53Publisher struct {
	client       route53API
	hostedZoneID string
	ttl          int64
}

// NewRoute53Publisher loads AWS config from the default chain.
func NewRoute53Publisher(ctx context.Context, cfg config.Route53Config) (*Route53Publisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return newRoute53Publisher(route53.NewFromConfig(awsCfg), cfg), nil
}

func newRoute53Publisher(client route53API, cfg config.Route53Config) *Route53Publisher {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 300
	}
	return &Route53Publisher{client: client, hostedZoneID: cfg.HostedZoneID, ttl: ttl}
}

// Publish implements Publisher with a single UPSERT change batch.
func (p *Route53Publisher) Publish(ctx context.Context, records []domain.DNSRecord) error {
	if len(records) == 0 {
		return nil
	}
	changes := make([]r53types.Change, 0, len(records))
	for _, rec := range records {
		value := rec.Value
		if rec.Type == "TXT" {
			value = quoteTXT(value)
		}
		changes = append(changes, r53types.Change{
			Action: r53types.ChangeActionUpsert,
			ResourceRecordSet: &r53types.ResourceRecordSet{
				Name:            aws.String(rec.Name),
				Type:            r53types.RRType(rec.Type),
				TTL:             aws.Int64(p.ttl),
				ResourceRecords: []r53types.ResourceRecord{{Value: aws.String(value)}},
			},
		})
	}
	_, err := p.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(p.hostedZoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Changes: changes,
			Comment: aws.String("sending domain records"),
		},
	})
	if err != nil {
		return fmt.Errorf("upsert route53 records: %w", err)
	}
	return nil
}

// quoteTXT splits a value into quoted 255-byte strings, the TXT limit.
func quoteTXT(v string) string {
	var parts []string
	for len(v) > 255 {
		parts = append(parts, `"`+v[:255]+`"`)
		v = v[255:]
	}
	parts = append(parts, `"`+v+`"`)
	return strings.Join(parts, " ")
}
