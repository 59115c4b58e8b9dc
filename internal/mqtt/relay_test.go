package mqtt

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyquest/offline-engine/internal/errors"
	"github.com/studyquest/offline-engine/internal/events"
	"github.com/studyquest/offline-engine/internal/logger"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func completed(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type publication struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient implements the parts of paho.Client the relay uses.
type fakeClient struct {
	paho.Client

	mu           sync.Mutex
	open         bool
	connectErr   error
	publishErr   error
	published    []publication
	disconnected bool
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.open = true
	}
	return completed(c.connectErr)
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	c.published = append(c.published, publication{topic: topic, qos: qos, retained: retained, payload: b})
	return completed(c.publishErr)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.disconnected = true
}

func (c *fakeClient) publications() []publication {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publication(nil), c.published...)
}

func newTestRelay(client *fakeClient) *Relay {
	return newRelayWithClient(client, "studyquest", 1, logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil))
}

func TestRelayPublishesEventsAsJSON(t *testing.T) {
	client := &fakeClient{}
	r := newTestRelay(client)
	require.NoError(t, r.Connect(t.Context()))

	r.Handle(&events.Event{Name: events.Ready, Data: map[string]any{"version": "v2"}, Timestamp: time.Now()})

	pubs := client.publications()
	require.Len(t, pubs, 1)
	assert.Equal(t, "studyquest/events/ready", pubs[0].topic)
	assert.Equal(t, byte(1), pubs[0].qos)
	assert.False(t, pubs[0].retained)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(pubs[0].payload, &decoded))
	assert.Equal(t, "ready", decoded["type"])
	assert.Equal(t, map[string]any{"version": "v2"}, decoded["data"])

	assert.Eventually(t, func() bool {
		published, _ := r.Stats()
		return published == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRelaySkipsWhileDisconnected(t *testing.T) {
	client := &fakeClient{}
	r := newTestRelay(client)

	r.Handle(&events.Event{Name: events.Offline})
	assert.Empty(t, client.publications())
	_, failed := r.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestRelayCountsFailedPublishes(t *testing.T) {
	client := &fakeClient{publishErr: errors.NewStd("not authorized")}
	r := newTestRelay(client)
	require.NoError(t, r.Connect(t.Context()))

	r.Handle(&events.Event{Name: events.SyncComplete})
	assert.Eventually(t, func() bool {
		_, failed := r.Stats()
		return failed == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRelayConnectError(t *testing.T) {
	client := &fakeClient{connectErr: errors.NewStd("connection refused")}
	r := newTestRelay(client)

	err := r.Connect(t.Context())
	require.Error(t, err)
	assert.Equal(t, errors.CategoryNetwork, errors.CategoryOf(err))
}

func TestRelayCloseMarksOffline(t *testing.T) {
	client := &fakeClient{}
	r := newTestRelay(client)
	require.NoError(t, r.Connect(t.Context()))

	r.Close()
	pubs := client.publications()
	require.Len(t, pubs, 1)
	assert.Equal(t, "studyquest/status", pubs[0].topic)
	assert.True(t, pubs[0].retained)
	assert.Equal(t, "offline", string(pubs[0].payload))
	assert.True(t, client.disconnected)
}
