package adapters

import (
	"context"
	"fmt"
	"os"

	"mqtt-gateway/application"

	"gopkg.in/yaml.v3"
)

// BrokerConfigFile is the on-disk seed for the broker config store:
//
//	brokers:
//	  broker1:
//	    host_name: broker.example.com
//	    port: 1883
type BrokerConfigFile struct {
	Brokers map[string]BrokerConfigEntry `yaml:"brokers"`
}

type BrokerConfigEntry struct {
	HostName string `yaml:"host_name"`
	Port     int    `yaml:"port"`
}

func LoadBrokerConfigFile(path string) (map[string]application.BrokerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read broker config file: %w", err)
	}
	return ParseBrokerConfigFile(data)
}

func ParseBrokerConfigFile(data []byte) (map[string]application.BrokerConfig, error) {
	var file BrokerConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse broker config file: %w", err)
	}

	configs := make(map[string]application.BrokerConfig, len(file.Brokers))
	for name, entry := range file.Brokers {
		if entry.HostName == "" {
			return nil, fmt.Errorf("broker %q: host_name is required", name)
		}
		if entry.Port <= 0 || entry.Port > 65535 {
			return nil, fmt.Errorf("broker %q: invalid port %d", name, entry.Port)
		}
		configs[name] = application.BrokerConfig{HostName: entry.HostName, Port: entry.Port}
	}
	return configs, nil
}

func SeedBrokerConfigs(ctx context.Context, store application.BrokerConfigStore, configs map[string]application.BrokerConfig) error {
	for name, cfg := range configs {
		if err := store.Put(ctx, name, cfg); err != nil {
			return fmt.Errorf("failed to seed broker %q: %w", name, err)
		}
	}
	return nil
}
