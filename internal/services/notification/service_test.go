package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"fxwallet/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	return m.Called().Error(0)
}

func TestService_TransactionChanged(t *testing.T) {
	writer := new(MockWriter)
	var sent []kafka.Message
	writer.On("WriteMessages", mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(0).([]kafka.Message)
	}).Return(nil)

	svc := NewService(NewKafkaPublisher(writer), nil)
	provider := models.ProviderPaystack
	svc.TransactionChanged(context.Background(), &models.Transaction{
		ID:        5,
		UserID:    9,
		Reference: "01HX",
		Intent:    models.IntentPayout,
		State:     models.StateFailed,
		Amount:    -5000,
		Currency:  "NGN",
		Provider:  &provider,
	})

	require.Len(t, sent, 1)
	assert.Equal(t, "9", string(sent[0].Key))

	var event TransactionEvent
	require.NoError(t, json.Unmarshal(sent[0].Value, &event))
	assert.Equal(t, "01HX", event.Reference)
	assert.Equal(t, models.StateFailed, event.State)
	assert.Equal(t, "paystack", event.Provider)
	assert.NotEmpty(t, event.EventID)
	writer.AssertExpectations(t)
}

func TestService_PublishFailureIsSwallowed(t *testing.T) {
	writer := new(MockWriter)
	writer.On("WriteMessages", mock.Anything).Return(errors.New("broker down"))
	writer.On("Close").Return(nil)

	svc := NewService(NewKafkaPublisher(writer), nil)
	assert.NotPanics(t, func() {
		svc.TransactionChanged(context.Background(), &models.Transaction{Reference: "r", State: models.StateCompleted})
	})
	assert.NoError(t, svc.Close())
	writer.AssertExpectations(t)
}
