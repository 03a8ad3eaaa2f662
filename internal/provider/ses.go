package provider

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
	"github.com/aws/smithy-go"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// sesAPI is the subset of the SES v2 client the provider calls.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, in *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// sesPermanentCodes are SES API error codes that will not succeed on retry.
var sesPermanentCodes = map[string]bool{
	"MessageRejected":                    true,
	"MailFromDomainNotVerifiedException": true,
	"AccountSuspendedException":          true,
	"SendingPausedException":             true,
	"BadRequestException":                true,
	"NotFoundException":                  true,
}

// SES delivers through the AWS SES v2 SendEmail API.
type SES struct {
	client sesAPI
}

// NewSES loads AWS configuration for cfg.Region. Static credentials are
// used when APIKey and SecretKey are set; otherwise the default chain
// applies. Endpoint overrides the service URL (e.g. LocalStack).
func NewSES(ctx context.Context, cfg ProviderConfig) (*SES, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.APIKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.APIKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ses: load aws config: %w", err)
	}

	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &SES{client: client}, nil
}

func (s *SES) GetName() string { return "ses" }

func sesContent(data string) *types.Content {
	return &types.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

func (s *SES) buildInput(msg *mq.Message) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.HTMLBody != "" {
		body.Html = sesContent(msg.HTMLBody)
	}
	if msg.TextBody != "" {
		body.Text = sesContent(msg.TextBody)
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.FromEmail),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: sesContent(msg.Subject),
				Body:    body,
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("message_id"), Value: aws.String(msg.ID.String())},
		},
	}
}

// Send calls SendEmail with a simple (non-raw) content body.
func (s *SES) Send(ctx context.Context, msg *mq.Message) (*DeliveryResult, error) {
	out, err := s.client.SendEmail(ctx, s.buildInput(msg))
	if err != nil {
		return nil, classifySESError(err)
	}

	return &DeliveryResult{
		ProviderMessageID: aws.ToString(out.MessageId),
		Timestamp:         time.Now(),
	}, nil
}

// HealthCheck verifies AWS SES connectivity by calling GetAccount.
func (s *SES) HealthCheck(ctx context.Context) error {
	out, err := s.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return fmt.Errorf("ses: health check: %w", err)
	}
	if !out.SendingEnabled {
		return fmt.Errorf("ses: sending is disabled for this account")
	}
	return nil
}

func classifySESError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:  "ses",
			Message:   apiErr.ErrorCode() + ": " + apiErr.ErrorMessage(),
			Permanent: sesPermanentCodes[apiErr.ErrorCode()],
		}
	}
	return &ProviderError{Provider: "ses", Message: err.Error()}
}
