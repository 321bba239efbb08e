package dispatchnotifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-dispatcher/internal/common/logger"
	"push-dispatcher/internal/models"
)

type mockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *mockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, params, optFns...)
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-123")}, nil
}

func TestSNSAlertPublisher_PublishTerminal(t *testing.T) {
	var input *sns.PublishInput
	client := &mockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			input = params
			return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
		},
	}
	job := models.NotificationJob{
		ID:              "j1",
		Kind:            models.KindTournamentElimination,
		RecipientUserID: "u1",
		Attempts:        5,
	}

	pub := NewSNSAlertPublisher(client, "arn:aws:sns:eu-west-1:123456789012:push-failures")
	require.NoError(t, pub.PublishTerminal(context.Background(), job, "NO_DEVICES: no deliverable devices"))

	require.NotNil(t, input)
	assert.Equal(t, "arn:aws:sns:eu-west-1:123456789012:push-failures", aws.ToString(input.TopicArn))
	assert.Equal(t, "tournament_elimination", aws.ToString(input.MessageAttributes["kind"].StringValue))

	var alert map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(input.Message)), &alert))
	assert.Equal(t, "notification_job_failed", alert["event"])
	assert.Equal(t, "j1", alert["jobId"])
	assert.Equal(t, float64(5), alert["attempts"])
	assert.Equal(t, "NO_DEVICES: no deliverable devices", alert["lastError"])
	assert.NotContains(t, alert, "tournamentId")
}

func TestSNSAlertPublisher_PublishError(t *testing.T) {
	client := &mockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, errors.New("AuthorizationError")
		},
	}

	err := NewSNSAlertPublisher(client, "arn").PublishTerminal(context.Background(), models.NotificationJob{ID: "j1"}, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AuthorizationError")
}

func TestRecorder_AlertFailureIsNotFatal(t *testing.T) {
	store := &memJobStore{jobs: []*models.NotificationJob{{ID: "j1", Status: models.StatusProcessing, Attempts: 5}}}
	alerts := &mockAlertPublisher{err: errors.New("throttled")}
	rec := NewRecorder(store, &mockHistoryStore{}, alerts, 5, logger.NewTestLogger(t))

	res := rec.Fail(context.Background(), store.get("j1"), JobResult{ID: "j1"}, errors.New("gateway down"))
	assert.Equal(t, ResultFailed, res.Result)
	assert.Equal(t, "failed", res.Status)
	assert.Equal(t, models.StatusFailed, store.get("j1").Status)
	assert.Equal(t, []string{"j1"}, alerts.jobIDs)
}

func TestNewRecorder_NilAlertsUsesNop(t *testing.T) {
	store := &memJobStore{jobs: []*models.NotificationJob{{ID: "j1", Status: models.StatusProcessing, Attempts: 5}}}
	rec := NewRecorder(store, &mockHistoryStore{}, nil, 5, logger.NewTestLogger(t))

	res := rec.Fail(context.Background(), store.get("j1"), JobResult{ID: "j1"}, nil)
	assert.Equal(t, "delivery failed", res.Error)
	assert.Equal(t, models.StatusFailed, store.get("j1").Status)
}
