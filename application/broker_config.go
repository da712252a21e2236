package application

import "context"

type BrokerConfig struct {
	HostName string `json:"hostName"`
	Port     int    `json:"port"`
}

// BrokerConfigStore maps logical broker names to broker endpoints.
// Get reports a miss with ok == false and a nil error.
type BrokerConfigStore interface {
	Get(ctx context.Context, name string) (cfg BrokerConfig, ok bool, err error)
	Put(ctx context.Context, name string, cfg BrokerConfig) error
	Delete(ctx context.Context, name string) error
}
