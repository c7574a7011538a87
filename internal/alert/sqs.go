package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// SQSSender is the subset of the SQS client used for the dead-letter queue.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DeadLetter parks terminal failures on a queue so they can be inspected or
// replayed by hand.
type DeadLetter struct {
	client   SQSSender
	queueURL string
	logger   *zap.Logger
}

type SQSConfig struct {
	Region   string
	QueueURL string
	Endpoint string // optional, for LocalStack
}

func NewDeadLetter(ctx context.Context, cfg SQSConfig, logger *zap.Logger) (*DeadLetter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("dead-letter queue initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return NewDeadLetterWithClient(client, cfg.QueueURL, logger), nil
}

func NewDeadLetterWithClient(client SQSSender, queueURL string, logger *zap.Logger) *DeadLetter {
	return &DeadLetter{client: client, queueURL: queueURL, logger: logger}
}

func (d *DeadLetter) Alert(ctx context.Context, f TerminalFailure) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"notification_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(f.NotificationID),
			},
		},
	}

	result, err := d.client.SendMessage(ctx, input)
	if err != nil {
		d.logger.Error("failed to send message to dead-letter queue",
			zap.Error(err),
			zap.String("notification_id", f.NotificationID),
		)
		return fmt.Errorf("sqs send failed: %w", err)
	}

	d.logger.Debug("terminal failure parked",
		zap.String("notification_id", f.NotificationID),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
