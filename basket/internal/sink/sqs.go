package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/databuddy-analytics/databuddy/basket/internal/models"
)

// sqsAPI is the part of *sqs.Client the sink uses.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSConfig configures the SQS sink. Endpoint overrides the AWS endpoint,
// for LocalStack and similar.
type SQSConfig struct {
	QueueURL string
	Region   string
	Endpoint string
}

// SQS sends one message per event.
type SQS struct {
	client   sqsAPI
	queueURL string
}

// NewSQS loads AWS credentials from the default chain.
func NewSQS(ctx context.Context, cfg SQSConfig) (*SQS, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newSQS(client, cfg.QueueURL), nil
}

func newSQS(client sqsAPI, queueURL string) *SQS {
	return &SQS{client: client, queueURL: queueURL}
}

func (s *SQS) Process(ctx context.Context, ev *models.CanonicalEvent) (*models.Result, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(data)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"client_id": {DataType: aws.String("String"), StringValue: aws.String(ev.ClientID)},
			"event_id":  {DataType: aws.String("String"), StringValue: aws.String(ev.ID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	return Accepted(ev), nil
}

func (s *SQS) Close() error { return nil }
