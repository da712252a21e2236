package application

import "context"

// ClientProvider hands out MQTT clients per broker name. Implementations
// cache one client per name and replace it when the broker config changes,
// so concurrent requests against the same broker share a session.
type ClientProvider interface {
	Client(ctx context.Context, name string, cfg BrokerConfig) (MQTTClient, error)
	Lookup(name string) (MQTTClient, bool)
	Clients() map[string]MQTTClient
	Evict(name string)
}
