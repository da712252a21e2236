package application

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBuildPublishRequest(t *testing.T) {
	req := BuildPublishRequest("payload", "topic1")
	assert.Equal(t, PublishRequest{
		Topic:   "topic1",
		Payload: []byte("payload"),
		QoS:     QoSAtLeastOnce,
		Retain:  false,
	}, req)
}

func TestPublishWorkflow_Publish(t *testing.T) {
	mClient := &MockMQTTClient{}

	expected := PublishResult{Topic: "topic1", Payload: []byte("Message to the broker"), QoS: QoSAtLeastOnce}
	mClient.On("Publish", mock.Anything, BuildPublishRequest("Message to the broker", "topic1")).
		Return(expected, nil).Once()

	result, err := NewPublishWorkflow(PublishWorkflowParams{}).
		Publish(context.Background(), mClient, "Message to the broker", "topic1")
	require.NoError(t, err)
	assert.Equal(t, expected, result)

	mClient.AssertExpectations(t)
}

func TestPublishWorkflow_Publish_Error(t *testing.T) {
	mClient := &MockMQTTClient{}

	mClient.On("Publish", mock.Anything, mock.Anything).Return(PublishResult{}, fmt.Errorf("internal")).Once()

	_, err := NewPublishWorkflow(PublishWorkflowParams{}).
		Publish(context.Background(), mClient, "payload", "topic1")
	require.Error(t, err)

	var pubErr *PublishError
	require.True(t, errors.As(err, &pubErr))
	assert.Equal(t, "topic1", pubErr.Topic)

	mClient.AssertExpectations(t)
}

func TestPublishWorkflow_Publish_EmptyPayload(t *testing.T) {
	mClient := &MockMQTTClient{}

	_, err := NewPublishWorkflow(PublishWorkflowParams{}).
		Publish(context.Background(), mClient, "", "topic1")
	require.ErrorIs(t, err, ErrEmptyPayload)

	mClient.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}
