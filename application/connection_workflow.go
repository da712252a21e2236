package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultConnectRetries = 3
	DefaultConnectBackoff = 200 * time.Millisecond
)

// ConnectionWorkflowParams configures the connect retry loop. Zero is a valid
// value for both Retries and Backoff; negative values select the defaults.
type ConnectionWorkflowParams struct {
	// Retries is the number of connect attempts made after the first one fails.
	Retries int
	// Backoff is the fixed delay between two attempts.
	Backoff time.Duration

	Log zerolog.Logger
}

func DefaultConnectionWorkflowParams() ConnectionWorkflowParams {
	return ConnectionWorkflowParams{
		Retries: DefaultConnectRetries,
		Backoff: DefaultConnectBackoff,
	}
}

func (c *ConnectionWorkflowParams) EnsureDefaults() {
	if c.Retries < 0 {
		c.Retries = DefaultConnectRetries
	}

	if c.Backoff < 0 {
		c.Backoff = DefaultConnectBackoff
	}
}

// ConnectionWorkflow makes sure a client is connected before it is used.
//
// The connected check and the connect call are not atomic: two callers that
// both observe a disconnected client will both connect. The engine tolerates
// duplicate connects, so no lock is taken here.
type ConnectionWorkflow struct {
	params ConnectionWorkflowParams

	log zerolog.Logger
}

func NewConnectionWorkflow(params ConnectionWorkflowParams) *ConnectionWorkflow {
	params.EnsureDefaults()
	return &ConnectionWorkflow{params: params, log: params.Log}
}

func (c *ConnectionWorkflow) EnsureConnected(ctx context.Context, client MQTTClient) (ConnectionAck, error) {
	if client == nil {
		return ConnectionAck{}, ErrInvalidBroker
	}

	if client.IsConnectedOrReconnecting() {
		c.log.Debug().Msg("client is connected")
		return ConnectionAck{AlreadyConnected: true}, nil
	}

	var (
		lastAck  ConnectionAck
		lastErr  error
		attempts int
	)

	maxAttempts := c.params.Retries + 1
	for attempts < maxAttempts {
		if attempts > 0 {
			if err := sleepCtx(ctx, c.params.Backoff); err != nil {
				lastErr = err
				break
			}
		}

		attempts++
		ack, err := client.Connect(ctx)
		if err == nil && ack.Success() {
			c.log.Info().
				Int("attempt", attempts).
				Stringer("reason_code", ack.ReasonCode).
				Bool("session_present", ack.SessionPresent).
				Msg("connected")
			return ack, nil
		}

		if err == nil {
			err = fmt.Errorf("%w: %s", ErrConnectionRefused, ack.ReasonCode)
		}
		lastAck, lastErr = ack, err

		c.log.Warn().
			Err(err).
			Int("attempt", attempts).
			Int("max_attempts", maxAttempts).
			Stringer("reason_code", ack.ReasonCode).
			Msg("connect attempt failed")

		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
	}

	return lastAck, &ConnectionError{
		ReasonCode: lastAck.ReasonCode,
		Attempts:   attempts,
		Err:        lastErr,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
