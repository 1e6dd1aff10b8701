// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package ingest bridges MQTT sensor messages to the HTTP API.

Devices publish JSON documents like

	{"temperature": 21.5, "humidity": 40, "light": 300, "device_id": "esp32-kitchen"}

to {baseTopic}/readings. The messages arrive either through Subscriber, an MQTT client
connected to an external broker, or through Broker, an embedded broker. Both hand the message
to Bridge.Handle, which admits at most one message per gate interval and forwards every
contained value with Forwarder.
*/
package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/sensorhub/core/logger"
	"github.com/relabs-tech/sensorhub/sensor"
)

// ReadingsTopic is the sub topic under the base topic which carries readings
const ReadingsTopic = "readings"

// Poster posts one reading to the API
type Poster interface {
	Post(ctx context.Context, reading Reading) error
}

// Reading is one value extracted from a message
type Reading struct {
	Type      sensor.Type
	Value     float64
	Timestamp time.Time
	DeviceID  string
}

// message is the payload published by devices
type message struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Light       *float64 `json:"light"`
	DeviceID    string   `json:"device_id"`
}

func (m *message) readings(received time.Time) []Reading {
	var readings []Reading
	add := func(t sensor.Type, v *float64) {
		if v != nil {
			readings = append(readings, Reading{Type: t, Value: *v, Timestamp: received, DeviceID: m.DeviceID})
		}
	}
	add(sensor.Temperature, m.Temperature)
	add(sensor.Humidity, m.Humidity)
	add(sensor.Light, m.Light)
	return readings
}

// Bridge is the message handler shared by the subscriber and the embedded broker
type Bridge struct {
	baseTopic string
	poster    Poster
	gate      *Gate
	now       func() time.Time
}

// BridgeBuilder is a helper struct to build a bridge.
type BridgeBuilder struct {
	// BaseTopic is the topic prefix, mandatory
	BaseTopic string
	// Poster forwards readings, mandatory
	Poster Poster
	// Gate limits the forward rate. If nil, a gate with DefaultInterval is used.
	Gate *Gate
}

// NewBridge creates a bridge
func NewBridge(bb *BridgeBuilder) *Bridge {
	if bb.BaseTopic == "" {
		panic("base topic missing")
	}
	if bb.Poster == nil {
		panic("poster missing")
	}
	gate := bb.Gate
	if gate == nil {
		gate = NewGate(DefaultInterval)
	}
	return &Bridge{
		baseTopic: strings.TrimSuffix(bb.BaseTopic, "/"),
		poster:    bb.Poster,
		gate:      gate,
		now:       time.Now,
	}
}

// SubscriptionFilter returns the topic filter which covers every topic of the bridge
func (b *Bridge) SubscriptionFilter() string {
	return b.baseTopic + "/#"
}

// ReadingsTopic returns the topic which carries readings
func (b *Bridge) ReadingsTopic() string {
	return b.baseTopic + "/" + ReadingsTopic
}

// Handle processes one message. Messages on other topics are ignored, malformed payloads are
// logged and dropped. It returns the number of forwarded readings.
func (b *Bridge) Handle(ctx context.Context, topic string, payload []byte) int {
	rlog := logger.FromContext(ctx)
	if topic != b.ReadingsTopic() {
		rlog.Debugln("ignore message on topic", topic)
		return 0
	}

	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		rlog.WithError(err).Warnf("received non-JSON message on %s: %q", topic, payload)
		return 0
	}
	readings := msg.readings(b.now())
	if len(readings) == 0 {
		rlog.Infoln("no sensor values found in message on", topic)
		return 0
	}
	for _, reading := range readings {
		rlog.Infof("received %s: %v %s", reading.Type, reading.Value, reading.Type.DefaultUnit())
	}

	if !b.gate.Allow() {
		rlog.Infof("skipping post (waiting %v between requests)", b.gate.Remaining().Round(time.Millisecond))
		return 0
	}

	forwarded := 0
	for _, reading := range readings {
		if err := b.poster.Post(ctx, reading); err != nil {
			rlog.WithError(err).Errorf("could not forward %s reading", reading.Type)
			continue
		}
		forwarded++
		rlog.Infof("forwarded %s reading %v", reading.Type, reading.Value)
	}
	return forwarded
}
