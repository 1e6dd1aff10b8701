// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package ingest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"

	"github.com/relabs-tech/sensorhub/core/logger"
)

// DefaultBrokerAddress is the listen address of the embedded broker
const DefaultBrokerAddress = ":1883"

// Broker is an embedded MQTT broker. Devices publish to it directly and every message
// on the bridge topics is handed to the bridge.
type Broker struct {
	p *plugin
}

// BrokerBuilder is a builder helper for the Broker
type BrokerBuilder struct {
	// Address is the listen address. Defaults to DefaultBrokerAddress.
	Address string
	// Bridge handles the messages. This is mandatory.
	Bridge *Bridge
	// CACertFile is the file path to the X.509 certificate of the certificate authority.
	// If CACertFile, CertFile and KeyFile are set, the broker only accepts clients with a
	// certificate signed by this authority, and the MQTT client ID must match the
	// certificate common name.
	CACertFile string
	// CertFile is the file path to the X.509 certificate file.
	CertFile string
	// KeyFile is the file path to the X.509 private key file.
	KeyFile string
}

// plugin is the plugin for GMQTT
type plugin struct {
	ln      net.Listener
	handler Handler
	filter  string

	commonNamesRwmux sync.RWMutex
	commonNames      map[net.Conn]string
}

func tlsConfig(bb *BrokerBuilder) (*tls.Config, error) {
	crt, err := tls.LoadX509KeyPair(bb.CertFile, bb.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load broker certificate: %w", err)
	}
	caCert, err := os.ReadFile(bb.CACertFile)
	if err != nil {
		return nil, fmt.Errorf("read ca certificate: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("no certificates found in " + bb.CACertFile)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{crt},
		ClientCAs:    caCertPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}, nil
}

// NewBroker returns a new broker listening on the builder's address. The broker will not
// actually serve until you call Run()
func NewBroker(bb *BrokerBuilder) (*Broker, error) {
	if bb.Bridge == nil {
		panic("bridge missing")
	}
	address := bb.Address
	if address == "" {
		address = DefaultBrokerAddress
	}

	withTLS := bb.CACertFile != "" || bb.CertFile != "" || bb.KeyFile != ""
	var ln net.Listener
	var err error
	if withTLS {
		if bb.CACertFile == "" || bb.CertFile == "" || bb.KeyFile == "" {
			return nil, errors.New("broker TLS needs ca certificate, certificate and key")
		}
		var config *tls.Config
		if config, err = tlsConfig(bb); err != nil {
			return nil, err
		}
		ln, err = tls.Listen("tcp", address, config)
	} else {
		ln, err = net.Listen("tcp", address)
	}
	if err != nil {
		return nil, fmt.Errorf("broker listen on %s: %w", address, err)
	}

	return &Broker{
		p: &plugin{
			ln:          ln,
			handler:     bb.Bridge,
			filter:      bb.Bridge.SubscriptionFilter(),
			commonNames: make(map[net.Conn]string),
		},
	}, nil
}

// Addr returns the address the broker listens on
func (b *Broker) Addr() net.Addr {
	return b.p.ln.Addr()
}

// Run serves until the context is cancelled, then stops the broker gracefully
func (b *Broker) Run(ctx context.Context) error {
	rlog := logger.FromContext(ctx)
	s := gmqtt.NewServer(
		gmqtt.WithTCPListener(b.p.ln),
		gmqtt.WithPlugin(b.p),
	)
	s.Run()
	rlog.Infoln("embedded MQTT broker listening on", b.p.ln.Addr())

	<-ctx.Done()
	if err := s.Stop(context.Background()); err != nil {
		return fmt.Errorf("stop broker: %w", err)
	}
	rlog.Infoln("embedded MQTT broker stopped")
	return nil
}

// Load implements plugin interface
func (p *plugin) Load(service gmqtt.Server) error {
	return nil
}

// Unload implements plugin interface
func (p *plugin) Unload() error {
	return nil
}

// Name implements plugin interface
func (p *plugin) Name() string { return "sensorhub bridge" }

// HookWrapper implements plugin interface
func (p *plugin) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnAcceptWrapper:     p.OnAcceptWrapper,
		OnConnectWrapper:    p.OnConnectWrapper,
		OnSubscribeWrapper:  p.OnSubscribeWrapper,
		OnMsgArrivedWrapper: p.OnMsgArrivedWrapper,
		OnCloseWrapper:      p.OnCloseWrapper,
	}
}

func (p *plugin) commonNameFromConnection(conn net.Conn) (string, bool) {
	p.commonNamesRwmux.RLock()
	defer p.commonNamesRwmux.RUnlock()
	commonName, ok := p.commonNames[conn]
	return commonName, ok
}

func clientID(client gmqtt.Client) string {
	if client == nil {
		return ""
	}
	return client.OptionsReader().ClientID()
}

// OnAcceptWrapper records the certificate common name of TLS clients
func (p *plugin) OnAcceptWrapper(accept gmqtt.OnAccept) gmqtt.OnAccept {
	return func(ctx context.Context, conn net.Conn) bool {
		if tlsConn, ok := conn.(*tls.Conn); ok {
			if err := tlsConn.Handshake(); err != nil {
				logger.Default().WithError(err).Warnln("broker TLS handshake failed")
				return false
			}
			state := tlsConn.ConnectionState()
			if len(state.VerifiedChains) == 0 || len(state.VerifiedChains[0]) == 0 {
				return false
			}
			commonName := state.VerifiedChains[0][0].Subject.CommonName
			p.commonNamesRwmux.Lock()
			p.commonNames[conn] = commonName
			p.commonNamesRwmux.Unlock()
			logger.Default().Debugln("broker accept", commonName)
		}
		return accept(ctx, conn)
	}
}

// OnConnectWrapper enforces that the MQTT client ID matches the certificate common name
func (p *plugin) OnConnectWrapper(connect gmqtt.OnConnect) gmqtt.OnConnect {
	return func(ctx context.Context, client gmqtt.Client) (code uint8) {
		if commonName, ok := p.commonNameFromConnection(client.Connection()); ok && clientID(client) != commonName {
			logger.Default().Warnln("connect denied,", clientID(client), "not authorized")
			return packets.CodeNotAuthorized
		}
		logger.Default().Infoln("device connected:", clientID(client))
		return connect(ctx, client)
	}
}

// OnCloseWrapper forgets the certificate of closed connections
func (p *plugin) OnCloseWrapper(closed gmqtt.OnClose) gmqtt.OnClose {
	return func(ctx context.Context, client gmqtt.Client, err error) {
		p.commonNamesRwmux.Lock()
		delete(p.commonNames, client.Connection())
		p.commonNamesRwmux.Unlock()
		closed(ctx, client, err)
	}
}

// OnSubscribeWrapper restricts subscriptions to the bridge topics
func (p *plugin) OnSubscribeWrapper(subscribe gmqtt.OnSubscribe) gmqtt.OnSubscribe {
	return func(ctx context.Context, client gmqtt.Client, topic packets.Topic) (qos uint8) {
		if !p.allowedTopic(topic.Name) {
			logger.Default().Warnln("subscribe", clientID(client), topic.Name, "denied")
			return packets.SUBSCRIBE_FAILURE
		}
		return subscribe(ctx, client, topic)
	}
}

func (p *plugin) allowedTopic(topic string) bool {
	base := strings.TrimSuffix(p.filter, "#")
	return topic == p.filter || strings.HasPrefix(topic, base)
}

// OnMsgArrivedWrapper hands every message on the bridge topics to the bridge
func (p *plugin) OnMsgArrivedWrapper(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) (valid bool) {
		topic := msg.Topic()
		if !p.allowedTopic(topic) {
			return arrived(ctx, client, msg)
		}
		hctx, _ := logger.ContextWithLoggerIdentity(ctx, clientID(client))
		p.handler.Handle(hctx, topic, msg.Payload())
		return arrived(ctx, client, msg)
	}
}
