package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/mailpipe/internal/config"
)

// sesAPI is the slice of the SES v2 client this package calls.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends through AWS SES v2.
type SES struct {
	client           sesAPI
	configurationSet string
	timeout          time.Duration
}

// NewSES loads AWS config. Static keys are used when both are set, otherwise
// the default credential chain applies.
func NewSES(ctx context.Context, cfg config.SESConfig) (*SES, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ses: load aws config: %w", err)
	}
	return newSES(sesv2.NewFromConfig(awsCfg), cfg), nil
}

func newSES(client sesAPI, cfg config.SESConfig) *SES {
	return &SES{client: client, configurationSet: cfg.ConfigurationSet, timeout: cfg.Timeout()}
}

// Name implements Transport.
func (s *SES) Name() string { return "ses" }

// Send implements Transport.
func (s *SES) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := validate(msg); err != nil {
		return SendResult{}, err
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	body := &types.Body{}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromHeader(msg.FromName, msg.From)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if msg.BounceAddress != "" {
		input.FeedbackForwardingEmailAddress = aws.String(msg.BounceAddress)
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}
	for k, v := range msg.Tags {
		if v == "" {
			continue
		}
		input.EmailTags = append(input.EmailTags, types.MessageTag{Name: aws.String(k), Value: aws.String(v)})
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return SendResult{}, classifySES(err)
	}
	return SendResult{MessageID: aws.ToString(out.MessageId), Provider: s.Name(), SentAt: time.Now().UTC()}, nil
}

func classifySES(err error) error {
	var (
		rejected  *types.MessageRejected
		mailFrom  *types.MailFromDomainNotVerifiedException
		suspended *types.AccountSuspendedException
		badInput  *types.BadRequestException
	)
	switch {
	case errors.As(err, &rejected), errors.As(err, &mailFrom), errors.As(err, &suspended), errors.As(err, &badInput):
		return &PermanentError{Provider: "ses", Err: err}
	}
	return fmt.Errorf("ses: send: %w", err)
}
