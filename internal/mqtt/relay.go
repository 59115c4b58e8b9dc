// Package mqtt relays engine status events to an MQTT broker so hosts that
// cannot hold an event stream open still observe install, connectivity and
// sync state.
//
// Events are published as JSON to <prefix>/events/<name>. The relay's own
// availability is kept in the retained topic <prefix>/status ("online" or
// "offline", the latter set by the broker as last will).
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/studyquest/offline-engine/internal/conf"
	"github.com/studyquest/offline-engine/internal/errors"
	"github.com/studyquest/offline-engine/internal/events"
	"github.com/studyquest/offline-engine/internal/logger"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"

	// publishTimeout bounds the wait for a publish acknowledgement.
	publishTimeout        = 5 * time.Second
	defaultConnectTimeout = 10 * time.Second
	// disconnectQuiesce is the time in ms paho waits for in-flight work.
	disconnectQuiesce = 250
)

// Relay publishes status events to a broker.
type Relay struct {
	client  paho.Client
	prefix  string
	qos     byte
	retain  bool
	timeout time.Duration
	log     logger.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// NewRelay builds a relay from settings. It does not connect.
func NewRelay(s conf.MQTTSettings, log logger.Logger) *Relay {
	r := &Relay{
		prefix:  s.TopicPrefix,
		qos:     byte(s.QoS),
		retain:  s.Retain,
		timeout: s.ConnectTimeout.Std(),
		log:     log.Module("mqtt"),
	}
	if r.timeout <= 0 {
		r.timeout = defaultConnectTimeout
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(s.Broker)
	opts.SetClientID(s.ClientID)
	if s.Username != "" {
		opts.SetUsername(s.Username)
		opts.SetPassword(s.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(r.timeout)
	opts.SetWill(r.statusTopic(), statusOffline, r.qos, true)
	opts.SetOnConnectHandler(func(c paho.Client) {
		r.log.Info("connected to broker", logger.String("broker", s.Broker))
		c.Publish(r.statusTopic(), r.qos, true, statusOnline)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		r.log.Warn("broker connection lost", logger.Error(err))
	})

	r.client = paho.NewClient(opts)
	return r
}

// newRelayWithClient is used by tests to substitute the client.
func newRelayWithClient(client paho.Client, prefix string, qos byte, log logger.Logger) *Relay {
	return &Relay{client: client, prefix: prefix, qos: qos, timeout: time.Second, log: log.Module("mqtt")}
}

// Connect dials the broker, honoring ctx and the connect timeout.
func (r *Relay) Connect(ctx context.Context) error {
	token := r.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return r.wrap(ctx.Err(), "connect")
	case <-time.After(r.timeout):
		return r.wrap(fmt.Errorf("connect timed out after %s", r.timeout), "connect")
	}
	if err := token.Error(); err != nil {
		return r.wrap(err, "connect")
	}
	return nil
}

// Handle publishes one event. It is an events.Handler and never blocks the
// bus on the broker acknowledgement.
func (r *Relay) Handle(e *events.Event) {
	if !r.client.IsConnectionOpen() {
		r.failed.Add(1)
		r.log.Debug("event not relayed, broker unavailable", logger.String("event", string(e.Name)))
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		r.failed.Add(1)
		r.log.Warn("failed to encode event", logger.String("event", string(e.Name)), logger.Error(err))
		return
	}

	topic := r.EventTopic(e.Name)
	token := r.client.Publish(topic, r.qos, r.retain, payload)
	go r.await(token, topic)
}

func (r *Relay) await(token paho.Token, topic string) {
	if !token.WaitTimeout(publishTimeout) {
		r.failed.Add(1)
		r.log.Warn("publish not acknowledged", logger.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		r.failed.Add(1)
		r.log.Warn("publish failed", logger.String("topic", topic), logger.Error(err))
		return
	}
	r.published.Add(1)
}

// EventTopic returns the topic an event is published to.
func (r *Relay) EventTopic(name events.Name) string {
	return r.prefix + "/events/" + string(name)
}

func (r *Relay) statusTopic() string {
	return r.prefix + "/status"
}

// Stats reports acknowledged and failed publishes.
func (r *Relay) Stats() (published, failed int64) {
	return r.published.Load(), r.failed.Load()
}

// Close marks the relay offline and disconnects.
func (r *Relay) Close() {
	if !r.client.IsConnected() {
		return
	}
	token := r.client.Publish(r.statusTopic(), r.qos, true, statusOffline)
	token.WaitTimeout(publishTimeout)
	r.client.Disconnect(disconnectQuiesce)
}

func (r *Relay) wrap(err error, op string) error {
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryNetwork).
		Context("operation", op).
		Build()
}
