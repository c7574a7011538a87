package gateway

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSGateway sends SMS through AWS SNS direct publish.
type SNSGateway struct {
	client   SNSAPI
	senderID string
	logger   *zap.Logger
}

type SNSConfig struct {
	Region   string
	SenderID string // optional alphanumeric sender id
}

func NewSNSGateway(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSGateway, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}
	return NewSNSGatewayWithClient(sns.NewFromConfig(awsCfg), cfg.SenderID, logger), nil
}

func NewSNSGatewayWithClient(client SNSAPI, senderID string, logger *zap.Logger) *SNSGateway {
	return &SNSGateway{client: client, senderID: senderID, logger: logger}
}

// SendSMS publishes a transactional text message. Every failure is transient
// from the caller's point of view.
func (g *SNSGateway) SendSMS(ctx context.Context, to, body string) (string, error) {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(body),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	}
	if g.senderID != "" {
		input.MessageAttributes["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(g.senderID),
		}
	}

	result, err := g.client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("sns publish failed: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	g.logger.Info("SMS sent via SNS",
		zap.String("phone_number", to),
		zap.String("message_id", messageID),
	)
	return messageID, nil
}
