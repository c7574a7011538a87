package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// SNSPublisher is the subset of the SNS client used for alerts.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSAlerter publishes terminal failures to an operator topic.
type SNSAlerter struct {
	client   SNSPublisher
	topicARN string
	logger   *zap.Logger
}

type SNSConfig struct {
	Region   string
	TopicARN string
	Endpoint string // optional, for LocalStack
}

func NewSNSAlerter(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSAlerter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewSNSAlerterWithClient(client, cfg.TopicARN, logger), nil
}

func NewSNSAlerterWithClient(client SNSPublisher, topicARN string, logger *zap.Logger) *SNSAlerter {
	return &SNSAlerter{client: client, topicARN: topicARN, logger: logger}
}

func (a *SNSAlerter) Alert(ctx context.Context, f TerminalFailure) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(a.topicARN),
		Subject:  aws.String(fmt.Sprintf("Notification failed: %s via %s", f.NotificationType, f.Channel)),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"channel": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(f.Channel)),
			},
			"notification_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(f.NotificationType)),
			},
		},
	}

	result, err := a.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to publish alert to SNS: %w", err)
	}

	a.logger.Info("terminal failure alert published",
		zap.String("notification_id", f.NotificationID),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
