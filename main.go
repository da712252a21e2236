package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mqtt-gateway/adapters"
	"mqtt-gateway/application"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagHTTPAddr,
	FlagMQTTUsername,
	FlagMQTTPassword,
	FlagMQTTTLS,
	FlagMQTTClientIDPrefix,
	FlagMQTTConnectTimeout,
	FlagMQTTPublishTimeout,
	FlagMQTTConnectRetries,
	FlagMQTTConnectBackoff,
	FlagSubscriptionBufferSize,
	FlagStoreDir,
	FlagBrokersFile,
	FlagReportInterval,
}

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "mqtt-gateway",
		Usage:   "HTTP gateway for publishing to and subscribing on MQTT brokers",
		Version: "v0.0.1",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			if ctx.String(FlagLogWriter.Name) == "console" {
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			} else if ctx.String(FlagLogWriter.Name) == "json" {
				logWriter = os.Stderr
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "mqtt-gateway").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)

			return nil
		},
		Action: func(ctx *cli.Context) error {
			logger.Info().Msg("service starting...")

			appCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
			defer cancel()
			go func() {
				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGTERM)

				select {
				case <-c:
					logger.Warn().Msg("interrupt signal received")
					cancel()
				case <-appCtx.Done():
				}
			}()

			store, closeStore, err := openBrokerConfigStore(ctx.String(FlagStoreDir.Name), logger)
			if err != nil {
				return err
			}
			defer closeStore()

			if path := ctx.String(FlagBrokersFile.Name); path != "" {
				configs, err := adapters.LoadBrokerConfigFile(path)
				if err != nil {
					return err
				}
				if err := adapters.SeedBrokerConfigs(appCtx, store, configs); err != nil {
					return err
				}
				logger.Info().Int("brokers", len(configs)).Str("path", path).Msg("broker configs loaded")
			}

			provider := adapters.NewMQTTClientProvider(adapters.MQTTClientProviderParams{
				ClientIDPrefix: ctx.String(FlagMQTTClientIDPrefix.Name),
				Username:       ctx.String(FlagMQTTUsername.Name),
				Password:       ctx.String(FlagMQTTPassword.Name),
				TLS:            ctx.Bool(FlagMQTTTLS.Name),
				ConnectTimeout: ctx.Duration(FlagMQTTConnectTimeout.Name),
				PublishTimeout: ctx.Duration(FlagMQTTPublishTimeout.Name),
				Log:            logger.With().Str("module", "mqtt-client").Logger(),
			})
			defer provider.Close()

			gateway, err := application.NewGatewayService(application.GatewayServiceParams{
				Store:    store,
				Provider: provider,
				Connection: application.NewConnectionWorkflow(application.ConnectionWorkflowParams{
					Retries: ctx.Int(FlagMQTTConnectRetries.Name),
					Backoff: ctx.Duration(FlagMQTTConnectBackoff.Name),
					Log:     logger.With().Str("module", "connection-workflow").Logger(),
				}),
				Publisher: application.NewPublishWorkflow(application.PublishWorkflowParams{
					Log: logger.With().Str("module", "publish-workflow").Logger(),
				}),
				Subscription: application.NewSubscriptionWorkflow(application.SubscriptionWorkflowParams{
					BufferSize: ctx.Int(FlagSubscriptionBufferSize.Name),
					Log:        logger.With().Str("module", "subscription-workflow").Logger(),
				}),
				ReportInterval: ctx.Duration(FlagReportInterval.Name),
				Log:            logger.With().Str("module", "gateway").Logger(),
			})
			if err != nil {
				return err
			}

			httpServer, err := adapters.NewHTTPServer(adapters.HTTPServerParams{
				Addr:    ctx.String(FlagHTTPAddr.Name),
				Gateway: gateway,
				Log:     logger.With().Str("module", "http-server").Logger(),
			})
			if err != nil {
				return err
			}

			eg, egCtx := errgroup.WithContext(appCtx)
			eg.Go(func() error {
				return gateway.Run(egCtx)
			})
			eg.Go(func() error {
				return httpServer.Run(egCtx)
			})

			logger.Info().Msg("service started")
			if err := eg.Wait(); err != nil {
				return err
			}

			logger.Info().Msg("service terminating...")
			return nil
		},
		Authors: []*cli.Author{
			{
				Name:  "Marcin Gorzynski",
				Email: "marcin@gorzynski.me",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("service terminated")
	}
}

func openBrokerConfigStore(dir string, logger zerolog.Logger) (application.BrokerConfigStore, func(), error) {
	if dir == "" {
		logger.Info().Msg("using in-memory broker config store")
		return adapters.NewMemoryBrokerConfigStore(), func() {}, nil
	}

	store, err := adapters.OpenBadgerBrokerConfigStore(dir)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("dir", dir).Msg("using badger broker config store")

	return store, func() {
		if err := store.Close(); err != nil {
			logger.Err(err).Msg("failed to close broker config store")
		}
	}, nil
}
