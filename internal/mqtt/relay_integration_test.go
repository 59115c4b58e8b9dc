//go:build integration

package mqtt

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyquest/offline-engine/internal/conf"
	"github.com/studyquest/offline-engine/internal/events"
	"github.com/studyquest/offline-engine/internal/logger"
	"github.com/studyquest/offline-engine/internal/testutil/containers"
)

func TestRelayDeliversToBroker(t *testing.T) {
	ctx := t.Context()
	broker, err := containers.NewMosquittoContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Terminate(context.Background()) })

	received := make(chan paho.Message, 4)
	subOpts := paho.NewClientOptions().AddBroker(broker.BrokerURL()).SetClientID("relay-subscriber")
	subscriber := paho.NewClient(subOpts)
	token := subscriber.Connect()
	require.True(t, token.WaitTimeout(10*time.Second))
	require.NoError(t, token.Error())
	t.Cleanup(func() { subscriber.Disconnect(250) })

	token = subscriber.Subscribe("studyquest-it/events/#", 1, func(_ paho.Client, msg paho.Message) {
		received <- msg
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	relay := NewRelay(conf.MQTTSettings{
		Enabled:        true,
		Broker:         broker.BrokerURL(),
		ClientID:       "relay-under-test",
		TopicPrefix:    "studyquest-it",
		QoS:            1,
		ConnectTimeout: conf.Duration(10 * time.Second),
	}, logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil))
	require.NoError(t, relay.Connect(ctx))
	t.Cleanup(relay.Close)

	relay.Handle(&events.Event{Name: events.SyncComplete, Data: map[string]any{"kind": "quiz-submission"}, Timestamp: time.Now()})

	select {
	case msg := <-received:
		assert.Equal(t, "studyquest-it/events/sync-complete", msg.Topic())
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload(), &decoded))
		assert.Equal(t, "sync-complete", decoded["type"])
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for relayed event")
	}
}
