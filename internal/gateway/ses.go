package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// SESAPI is the subset of the SES client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESGateway sends email through AWS SES.
type SESGateway struct {
	client SESAPI
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

// permanentSESCodes are SES error codes that retrying cannot fix.
var permanentSESCodes = map[string]bool{
	"MessageRejected":                    true,
	"InvalidParameterValue":              true,
	"MailFromDomainNotVerifiedException": true,
}

func NewSESGateway(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESGateway, error) {
	if cfg.FromEmail == "" {
		return nil, errors.New("ses gateway requires a from address")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return NewSESGatewayWithClient(ses.NewFromConfig(awsCfg), cfg.FromEmail, logger), nil
}

func NewSESGatewayWithClient(client SESAPI, from string, logger *zap.Logger) *SESGateway {
	return &SESGateway{client: client, from: from, logger: logger}
}

// SendEmail sends an HTML email. The body is expected to be escaped already.
func (g *SESGateway) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	input := &ses.SendEmailInput{
		Source: aws.String(g.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(strings.ReplaceAll(body, "\n", "<br>\n")),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := g.client.SendEmail(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && permanentSESCodes[apiErr.ErrorCode()] {
			return "", Permanent(fmt.Errorf("ses rejected message: %w", err))
		}
		return "", fmt.Errorf("ses send failed: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	g.logger.Info("email sent via SES",
		zap.String("to", to),
		zap.String("message_id", messageID),
	)
	return messageID, nil
}
