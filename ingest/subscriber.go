// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"

	"github.com/relabs-tech/sensorhub/core/logger"
)

// Handler handles one MQTT message
type Handler interface {
	Handle(ctx context.Context, topic string, payload []byte) int
}

// Subscriber receives messages from an external broker and dispatches them sequentially
type Subscriber struct {
	broker   string
	clientID string
	handler  Handler
	filter   string
	dial     func(ctx context.Context, address string) (net.Conn, error)
}

// SubscriberBuilder is a helper struct to build a subscriber.
type SubscriberBuilder struct {
	// Broker is the host:port of the broker, mandatory
	Broker string
	// ClientID is the MQTT client id. Defaults to "sensorhub-bridge".
	ClientID string
	// Bridge handles the messages, mandatory
	Bridge *Bridge
}

// NewSubscriber creates a subscriber
func NewSubscriber(sb *SubscriberBuilder) *Subscriber {
	if sb.Broker == "" {
		panic("broker missing")
	}
	if sb.Bridge == nil {
		panic("bridge missing")
	}
	clientID := sb.ClientID
	if clientID == "" {
		clientID = "sensorhub-bridge"
	}
	return &Subscriber{
		broker:   sb.Broker,
		clientID: clientID,
		handler:  sb.Bridge,
		filter:   sb.Bridge.SubscriptionFilter(),
		dial: func(ctx context.Context, address string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", address)
		},
	}
}

// onPub returns the publish callback of the mqtt client
func (s *Subscriber) onPub(ctx context.Context) func(mqtt.Header, mqtt.VariablesPublish, io.Reader) error {
	return func(_ mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
		payload, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		s.handler.Handle(ctx, string(varPub.TopicName), payload)
		return nil
	}
}

// Run connects to the broker, subscribes to the bridge topics and dispatches messages until
// the context is cancelled or the connection is lost. There is no reconnect. Cancellation is
// not an error.
func (s *Subscriber) Run(ctx context.Context) error {
	rlog := logger.FromContext(ctx)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := s.dial(connectCtx, s.broker)
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", s.broker, err)
	}
	defer conn.Close()

	c := mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 1500)},
		OnPub:   s.onPub(ctx),
	})

	var varConn mqtt.VariablesConnect
	varConn.SetDefaultMQTT([]byte(s.clientID))
	// the dispatch loop blocks in reads, so keepalive pings are disabled
	varConn.KeepAlive = 0
	if err = c.Connect(connectCtx, conn, &varConn); err != nil {
		return fmt.Errorf("connect to broker %s: %w", s.broker, err)
	}
	rlog.Infoln("connected to MQTT broker", s.broker, "as", s.clientID)

	err = c.Subscribe(connectCtx, mqtt.VariablesSubscribe{
		PacketIdentifier: 1,
		TopicFilters: []mqtt.SubscribeRequest{
			{TopicFilter: []byte(s.filter), QoS: mqtt.QoS0},
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.filter, err)
	}
	rlog.Infoln("subscribed to", s.filter)

	// unblock HandleNext on cancellation
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Disconnect(errors.New("shutting down"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		if ctx.Err() != nil {
			rlog.Infoln("disconnected from MQTT broker")
			return nil
		}
		if !c.IsConnected() {
			return fmt.Errorf("connection to broker %s lost: %w", s.broker, c.Err())
		}
		if err := c.HandleNext(); err != nil {
			if ctx.Err() != nil {
				continue
			}
			return fmt.Errorf("connection to broker %s lost: %w", s.broker, err)
		}
	}
}
