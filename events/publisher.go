package events

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/cenkalti/backoff/v3"
	"github.com/sirupsen/logrus"
)

// Publisher sends an event outside the process.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// LogPublisher writes events to the logger. It is used when no topic is
// configured.
type LogPublisher struct {
	Logger logrus.FieldLogger
}

var _ Publisher = (*LogPublisher)(nil)

func (p *LogPublisher) Publish(_ context.Context, e *Event) error {
	p.Logger.WithFields(logrus.Fields{
		"event":   e.ID,
		"type":    e.Type.String(),
		"subject": e.SubjectID,
	}).Info("Event")
	return nil
}

// SNSPublisher puts events into a SNS topic, retrying with backoff.
type SNSPublisher struct {
	logger   logrus.FieldLogger
	client   snsiface.SNSAPI
	topicARN string

	// Retry returns the backoff scheme for one publish. The default is
	// exponential.
	Retry func() backoff.BackOff
}

var _ Publisher = (*SNSPublisher)(nil)

func NewSNSPublisher(logger logrus.FieldLogger, client snsiface.SNSAPI, topicARN string) *SNSPublisher {
	return &SNSPublisher{
		logger:   logger,
		client:   client,
		topicARN: topicARN,
		Retry: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

func (p *SNSPublisher) Publish(ctx context.Context, e *Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return backoff.Permanent(err)
	}
	input := &sns.PublishInput{
		Message:  aws.String(string(payload)),
		TopicArn: aws.String(p.topicARN),
		MessageAttributes: map[string]*sns.MessageAttributeValue{
			"type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(e.Type.String()),
			},
		},
	}
	op := func() error {
		_, err := p.client.PublishWithContext(ctx, input)
		if err != nil {
			p.logger.WithField("event", e.ID).Debug("Publish attempt failed: ", err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(p.Retry(), ctx))
}
