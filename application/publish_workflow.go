package application

import (
	"context"

	"github.com/rs/zerolog"
)

type PublishWorkflowParams struct {
	Log zerolog.Logger
}

type PublishWorkflow struct {
	log zerolog.Logger
}

func NewPublishWorkflow(params PublishWorkflowParams) *PublishWorkflow {
	return &PublishWorkflow{log: params.Log}
}

// Publish sends a single message on a client that is already connected.
// Failures are logged and returned as *PublishError without a retry.
func (p *PublishWorkflow) Publish(ctx context.Context, client MQTTClient, payload string, topic string) (PublishResult, error) {
	if client == nil {
		return PublishResult{}, ErrInvalidBroker
	}

	if payload == "" {
		return PublishResult{}, ErrEmptyPayload
	}

	result, err := client.Publish(ctx, BuildPublishRequest(payload, topic))
	if err != nil {
		p.log.Error().Err(err).Str("topic", topic).Msg("error during publishing")
		return PublishResult{}, &PublishError{Topic: topic, Err: err}
	}

	p.log.Info().
		Str("topic", result.Topic).
		Bytes("payload", result.Payload).
		Msg("published")
	return result, nil
}

func BuildPublishRequest(payload string, topic string) PublishRequest {
	return PublishRequest{
		Topic:   topic,
		Payload: []byte(payload),
		QoS:     DefaultQoS,
		Retain:  DefaultRetain,
	}
}
