package application

import (
	"fmt"
)

var (
	ErrInvalidBroker      = fmt.Errorf("invalid broker")
	ErrEmptyPayload       = fmt.Errorf("empty payload")
	ErrConnectionRefused  = fmt.Errorf("connection refused")
	ErrSubscriptionClosed = fmt.Errorf("subscription closed")
)

// ConnectionError is returned once connect attempts are exhausted.
type ConnectionError struct {
	ReasonCode ReasonCode
	Attempts   int
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect failed after %d attempt(s), reason code %s: %v", e.Attempts, e.ReasonCode, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %q failed: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

type SubscriptionError struct {
	TopicFilter string
	Err         error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription to %q failed: %v", e.TopicFilter, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// BrokerError is the only error type the gateway hands to its callers.
// Err is one of ErrInvalidBroker, *ConnectionError, *PublishError or
// *SubscriptionError, possibly wrapped.
type BrokerError struct {
	Op     string
	Broker string
	Err    error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Broker, e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}
