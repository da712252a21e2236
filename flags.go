package main

import (
	"time"

	"mqtt-gateway/application"

	"github.com/urfave/cli/v2"
)

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	Usage:    "one of: [console, json]",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagHTTPAddr = &cli.StringFlag{
	Name:     "http-addr",
	EnvVars:  []string{"HTTP_ADDR"},
	Value:    ":8080",
	Required: false,
}

var FlagMQTTUsername = &cli.StringFlag{
	Name:     "mqtt-username",
	EnvVars:  []string{"MQTT_USERNAME"},
	Required: false,
}

var FlagMQTTPassword = &cli.StringFlag{
	Name:     "mqtt-password",
	EnvVars:  []string{"MQTT_PASSWORD"},
	Required: false,
}

var FlagMQTTTLS = &cli.BoolFlag{
	Name:     "mqtt-tls",
	Usage:    "connect to brokers over ssl://",
	EnvVars:  []string{"MQTT_TLS"},
	Required: false,
}

var FlagMQTTClientIDPrefix = &cli.StringFlag{
	Name:     "mqtt-client-id-prefix",
	Usage:    "client ids are {prefix}-{uuid}",
	EnvVars:  []string{"MQTT_CLIENT_ID_PREFIX"},
	Value:    "mqtt-gateway",
	Required: false,
}

var FlagMQTTConnectTimeout = &cli.DurationFlag{
	Name:     "mqtt-connect-timeout",
	EnvVars:  []string{"MQTT_CONNECT_TIMEOUT"},
	Value:    30 * time.Second,
	Required: false,
}

var FlagMQTTPublishTimeout = &cli.DurationFlag{
	Name:     "mqtt-publish-timeout",
	EnvVars:  []string{"MQTT_PUBLISH_TIMEOUT"},
	Value:    5 * time.Second,
	Required: false,
}

var FlagMQTTConnectRetries = &cli.IntFlag{
	Name:     "mqtt-connect-retries",
	Usage:    "connect attempts made after the first one fails",
	EnvVars:  []string{"MQTT_CONNECT_RETRIES"},
	Value:    application.DefaultConnectRetries,
	Required: false,
}

var FlagMQTTConnectBackoff = &cli.DurationFlag{
	Name:     "mqtt-connect-backoff",
	EnvVars:  []string{"MQTT_CONNECT_BACKOFF"},
	Value:    application.DefaultConnectBackoff,
	Required: false,
}

var FlagSubscriptionBufferSize = &cli.IntFlag{
	Name:     "subscription-buffer-size",
	Usage:    "messages buffered per subscriber before the oldest is dropped",
	EnvVars:  []string{"SUBSCRIPTION_BUFFER_SIZE"},
	Value:    application.DefaultSubscriptionBufferSize,
	Required: false,
}

var FlagStoreDir = &cli.StringFlag{
	Name:     "store-dir",
	Usage:    "badger directory for broker configs, in-memory when empty",
	EnvVars:  []string{"STORE_DIR"},
	Required: false,
}

var FlagBrokersFile = &cli.StringFlag{
	Name:     "brokers-file",
	Usage:    "yaml file with broker configs loaded at startup",
	EnvVars:  []string{"BROKERS_FILE"},
	Required: false,
}

var FlagReportInterval = &cli.DurationFlag{
	Name:     "report-interval",
	EnvVars:  []string{"REPORT_INTERVAL"},
	Value:    application.DefaultReportInterval,
	Required: false,
}
