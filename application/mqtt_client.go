package application

import (
	"context"
	"fmt"
	"time"
)

type QoS byte

const (
	QoSAtMostOnce  QoS = 0
	QoSAtLeastOnce QoS = 1
	QoSExactlyOnce QoS = 2
)

// Delivery settings shared by the publish and subscribe paths.
const (
	DefaultQoS    = QoSAtLeastOnce
	DefaultRetain = false
)

type ReasonCode byte

const (
	ReasonCodeSuccess                     ReasonCode = 0x00
	ReasonCodeUnacceptableProtocolVersion ReasonCode = 0x01
	ReasonCodeIdentifierRejected          ReasonCode = 0x02
	ReasonCodeServerUnavailable           ReasonCode = 0x03
	ReasonCodeBadUsernameOrPassword       ReasonCode = 0x04
	ReasonCodeNotAuthorized               ReasonCode = 0x05
)

func (r ReasonCode) String() string {
	switch r {
	case ReasonCodeSuccess:
		return "SUCCESS"
	case ReasonCodeUnacceptableProtocolVersion:
		return "UNACCEPTABLE_PROTOCOL_VERSION"
	case ReasonCodeIdentifierRejected:
		return "IDENTIFIER_REJECTED"
	case ReasonCodeServerUnavailable:
		return "SERVER_UNAVAILABLE"
	case ReasonCodeBadUsernameOrPassword:
		return "BAD_USERNAME_OR_PASSWORD"
	case ReasonCodeNotAuthorized:
		return "NOT_AUTHORIZED"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(r))
	}
}

// ConnectionAck is the outcome of a connect attempt. AlreadyConnected marks
// the no-op acknowledgement returned when the client was already connected.
type ConnectionAck struct {
	ReasonCode       ReasonCode
	SessionPresent   bool
	AlreadyConnected bool
}

func (a ConnectionAck) Success() bool {
	return a.AlreadyConnected || a.ReasonCode == ReasonCodeSuccess
}

type PublishRequest struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
}

type PublishResult struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	Retained bool
}

type SubscribeRequest struct {
	TopicFilter string
	QoS         QoS
}

type RawMessage struct {
	Topic     string
	Payload   []byte
	QoS       QoS
	Duplicate bool
	Retained  bool
}

type Message struct {
	Topic   string
	Payload string
}

type MQTTStatus struct {
	MessageCount      uint64
	LastTimePublished time.Time
	Connected         bool
}

// MQTTClient is the protocol engine handle bound to one broker.
//
// Subscribe registers onMessage for the topic filter. onMessage is invoked
// from the engine's receive loop and must not block. onError is invoked at
// most once when the inbound flow for the filter breaks (connection lost,
// client closed); the filter is forgotten by the client at that point.
type MQTTClient interface {
	Connect(ctx context.Context) (ConnectionAck, error)
	IsConnectedOrReconnecting() bool

	Publish(ctx context.Context, req PublishRequest) (PublishResult, error)
	Subscribe(ctx context.Context, req SubscribeRequest, onMessage func(RawMessage), onError func(error)) error
	Unsubscribe(ctx context.Context, topicFilter string) error

	Disconnect()
	Status() MQTTStatus
}
