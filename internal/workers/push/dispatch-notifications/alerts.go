// internal/workers/push/dispatch-notifications/alerts.go
package dispatchnotifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	awsclient "push-dispatcher/internal/common/aws"
	"push-dispatcher/internal/models"
)

// AlertPublisher is told about jobs that will never be retried.
type AlertPublisher interface {
	PublishTerminal(ctx context.Context, job models.NotificationJob, lastError string) error
}

type NopAlertPublisher struct{}

func (NopAlertPublisher) PublishTerminal(context.Context, models.NotificationJob, string) error {
	return nil
}

// SNSAlertPublisher posts a JSON alert to an SNS topic.
type SNSAlertPublisher struct {
	client   awsclient.SNSPublisher
	topicARN string
}

func NewSNSAlertPublisher(client awsclient.SNSPublisher, topicARN string) *SNSAlertPublisher {
	return &SNSAlertPublisher{client: client, topicARN: topicARN}
}

type terminalAlert struct {
	Event           string    `json:"event"`
	JobID           string    `json:"jobId"`
	Kind            string    `json:"kind"`
	RecipientUserID string    `json:"recipientUserId"`
	TournamentID    *string   `json:"tournamentId,omitempty"`
	Attempts        int       `json:"attempts"`
	LastError       string    `json:"lastError"`
	FailedAt        time.Time `json:"failedAt"`
}

func (p *SNSAlertPublisher) PublishTerminal(ctx context.Context, job models.NotificationJob, lastError string) error {
	body, err := json.Marshal(terminalAlert{
		Event:           "notification_job_failed",
		JobID:           job.ID,
		Kind:            job.Kind,
		RecipientUserID: job.RecipientUserID,
		TournamentID:    job.TournamentID,
		Attempts:        job.Attempts,
		LastError:       lastError,
		FailedAt:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String("Push notification job failed"),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String(job.Kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
