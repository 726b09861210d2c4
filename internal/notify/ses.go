package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SES sends mail through AWS SESv2.
type SES struct {
	client *sesv2.Client
	from   string
}

// NewSES builds an SES sender. With an empty access key the default AWS
// credential chain is used.
func NewSES(ctx context.Context, region, accessKeyID, secretAccessKey, from string) (*SES, error) {
	if region == "" {
		return nil, fmt.Errorf("ses region is required")
	}
	if from == "" {
		return nil, fmt.Errorf("ses sender is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SES{client: sesv2.NewFromConfig(cfg), from: from}, nil
}

func (s *SES) Send(ctx context.Context, recipient, subject, body string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("ses client is not initialized")
	}
	if recipient == "" {
		return fmt.Errorf("recipient is required")
	}

	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		Destination: &types.Destination{ToAddresses: []string{recipient}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body:    &types.Body{Text: &types.Content{Data: aws.String(body)}},
			},
		},
		FromEmailAddress: aws.String(s.from),
	})
	if err != nil {
		return fmt.Errorf("send ses email: %w", err)
	}
	return nil
}
