package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second

	// bufferCapacity bounds the offline replay buffer. Events are
	// small; an hour of disconnection fits comfortably.
	bufferCapacity = 256
)

// Client is the live broker connection. Publishes while disconnected
// land in a ring buffer and replay on reconnect; subscriptions are
// re-established on every reconnect.
type Client struct {
	client paho.Client
	log    *logrus.Entry

	mu     sync.Mutex
	buffer *ringBuffer
	subs   map[string]func(topic string, payload []byte)
}

// NewClient connects to the broker. The connection retries forever in
// the background; the initial connect is bounded so a dead broker at
// boot does not hang the daemon.
func NewClient(broker, clientID string, log *logrus.Entry) (*Client, error) {
	c := &Client{
		log:  log,
		subs: make(map[string]func(string, []byte)),
	}
	c.buffer = newRingBuffer(bufferCapacity, log)

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.WithError(err).Warn("broker connection lost, buffering")
		}).
		SetWill(TopicSystem, `{"system":{"event":"OFFLINE"}}`, 1, true)

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errors.New("broker connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, "connect to broker")
	}
	return c, nil
}

// onConnect re-subscribes every registered topic and replays buffered
// messages, oldest first.
func (c *Client) onConnect(_ paho.Client) {
	c.mu.Lock()
	subs := make(map[string]func(string, []byte), len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	backlog := c.buffer.drainAll()
	c.mu.Unlock()

	for topic, handler := range subs {
		c.subscribe(topic, handler)
	}

	if len(backlog) > 0 {
		c.log.WithField("messages", len(backlog)).Info("replaying buffered messages")
		for _, msg := range backlog {
			c.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		}
	}
}

// Subscribe registers the handler and subscribes if connected. The
// registration survives reconnects.
func (c *Client) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if !c.client.IsConnected() {
		return nil // onConnect picks it up
	}
	return c.subscribe(topic, handler)
}

func (c *Client) subscribe(topic string, handler func(string, []byte)) error {
	token := c.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		c.log.WithError(err).WithField("topic", topic).Error("subscribe failed")
		return errors.Wrapf(err, "subscribe %s", topic)
	}
	return nil
}

// PublishEvent sends a burner event, QoS 0, unbuffered: a stale state
// change replayed minutes later would mislead more than a gap.
func (c *Client) PublishEvent(e Event) error {
	payload, err := FormatEventPayload(e)
	if err != nil {
		return errors.Wrap(err, "format event")
	}
	if !c.client.IsConnected() {
		return nil
	}
	return c.send(TopicEvents, 0, false, payload)
}

// PublishStatus sends the retained status snapshot, QoS 1. Buffered
// while disconnected so the broker converges after an outage.
func (c *Client) PublishStatus(payload []byte) error {
	return c.publishOrBuffer(TopicStatus, 1, true, payload)
}

// PublishSystem sends a lifecycle event, QoS 1.
func (c *Client) PublishSystem(e SystemEvent) error {
	payload, err := FormatSystemPayload(e)
	if err != nil {
		return errors.Wrap(err, "format system event")
	}
	return c.publishOrBuffer(TopicSystem, 1, e.Retained, payload)
}

// PublishAutotune sends tuning progress or results, QoS 1.
func (c *Client) PublishAutotune(payload []byte) error {
	return c.publishOrBuffer(TopicAutotune, 1, false, payload)
}

func (c *Client) publishOrBuffer(topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnected() {
		c.mu.Lock()
		c.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		c.mu.Unlock()
		return nil
	}
	return c.send(topic, qos, retained, payload)
}

func (c *Client) send(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publish %s", topic)
	}
	return nil
}

// IsConnected reports the broker connection state.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects from the broker, allowing in-flight messages one
// second to finish.
func (c *Client) Close() error {
	c.client.Disconnect(1000)
	return nil
}
