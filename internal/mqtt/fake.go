package mqtt

import "sync"

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Events contains all burner events that were published.
	Events []Event

	// StatusPayloads contains the status snapshots that were published.
	StatusPayloads [][]byte

	// SystemEvents contains all lifecycle events that were published.
	SystemEvents []SystemEvent

	// AutotunePayloads contains the tuning payloads that were published.
	AutotunePayloads [][]byte

	// PublishError, if set, is returned by every publish method.
	PublishError error

	// Closed tracks whether Close was called.
	Closed bool

	// Connected controls IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Connected: true}
}

// PublishEvent records the burner event.
func (f *FakePublisher) PublishEvent(e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Events = append(f.Events, e)
	return nil
}

// PublishStatus records the status payload.
func (f *FakePublisher) PublishStatus(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.StatusPayloads = append(f.StatusPayloads, payload)
	return nil
}

// PublishSystem records the lifecycle event.
func (f *FakePublisher) PublishSystem(e SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.SystemEvents = append(f.SystemEvents, e)
	return nil
}

// PublishAutotune records the tuning payload.
func (f *FakePublisher) PublishAutotune(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.AutotunePayloads = append(f.AutotunePayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports the scripted connection state.
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// EventTypes returns the recorded event types in publish order.
func (f *FakePublisher) EventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.Events))
	for i, e := range f.Events {
		types[i] = e.Type
	}
	return types
}

// FakeSubscriber records subscriptions and lets tests inject messages.
type FakeSubscriber struct {
	mu       sync.Mutex
	handlers map[string]func(topic string, payload []byte)

	// SubscribeError, if set, is returned by Subscribe.
	SubscribeError error
}

// NewFakeSubscriber creates a FakeSubscriber for testing.
func NewFakeSubscriber() *FakeSubscriber {
	return &FakeSubscriber{handlers: make(map[string]func(string, []byte))}
}

// Subscribe records the handler.
func (f *FakeSubscriber) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.mu.Lock()
	f.handlers[topic] = handler
	f.mu.Unlock()
	return nil
}

// Inject delivers a message to the registered handler, reporting
// whether one was registered.
func (f *FakeSubscriber) Inject(topic string, payload []byte) bool {
	f.mu.Lock()
	handler, ok := f.handlers[topic]
	f.mu.Unlock()
	if !ok {
		return false
	}
	handler(topic, payload)
	return true
}

// Topics returns the subscribed topics.
func (f *FakeSubscriber) Topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	topics := make([]string, 0, len(f.handlers))
	for t := range f.handlers {
		topics = append(topics, t)
	}
	return topics
}
