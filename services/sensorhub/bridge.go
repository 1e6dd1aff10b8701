// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/sensorhub/ingest"
)

func newBridgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Forward MQTT readings to the HTTP API",
		Long: `Subscribe to {BASE_TOPIC}/# on MQTT_BROKER and post the readings published
on {BASE_TOPIC}/readings to API_URL, at most one message per POST_INTERVAL.

With EMBEDDED_BROKER set, the bridge runs its own MQTT broker on that address
instead. BROKER_CA_CERT, BROKER_CERT and BROKER_KEY enable TLS with client
certificates for the embedded broker.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := &Bridge{}
			if err := decode(config, &config.LogLevel); err != nil {
				return err
			}
			return runBridge(cmd.Context(), config)
		},
	}
}

func newIngestBridge(config *Bridge) *ingest.Bridge {
	forwarder := ingest.NewForwarder(&ingest.ForwarderBuilder{
		APIURL:       config.APIURL,
		Timeout:      config.ForwardTimeout,
		Retries:      config.ForwardRetries,
		RetryDelay:   config.ForwardRetryDelay,
		IngestSecret: []byte(config.IngestSecret),
		ClientID:     config.ClientID,
	})
	return ingest.NewBridge(&ingest.BridgeBuilder{
		BaseTopic: config.BaseTopic,
		Poster:    forwarder,
		Gate:      ingest.NewGate(config.PostInterval),
	})
}

func runBridge(ctx context.Context, config *Bridge) error {
	bridge := newIngestBridge(config)

	if config.EmbeddedBroker != "" {
		broker, err := ingest.NewBroker(&ingest.BrokerBuilder{
			Address:    config.EmbeddedBroker,
			Bridge:     bridge,
			CACertFile: config.BrokerCACert,
			CertFile:   config.BrokerCert,
			KeyFile:    config.BrokerKey,
		})
		if err != nil {
			return err
		}
		color.Green("embedded broker on %s, readings topic %s", broker.Addr(), bridge.ReadingsTopic())
		return broker.Run(ctx)
	}

	subscriber := ingest.NewSubscriber(&ingest.SubscriberBuilder{
		Broker:   config.Broker,
		ClientID: config.ClientID,
		Bridge:   bridge,
	})
	color.Green("bridging %s on %s to %s", bridge.ReadingsTopic(), config.Broker, config.APIURL)
	return subscriber.Run(ctx)
}
