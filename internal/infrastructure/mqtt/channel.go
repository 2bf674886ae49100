package mqtt

import (
	"fmt"
	"sync"
)

// EventHandler receives named push events from an instrument.
//
// Handlers are invoked from paho's delivery goroutines; the telemetry
// manager serializes them internally.
type EventHandler func(event string, payload []byte)

// EventChannel is a single-consumer stream of named events from one
// instrument, backed by a subscription on chimera/{serial}/events/+.
//
// The channel survives broker reconnects: the underlying subscription is
// restored automatically, so callers never need to reopen a channel after
// a transport error.
type EventChannel struct {
	client *Client
	serial string
	topic  string

	closeOnce sync.Once
	closeErr  error
}

// OpenEventChannel subscribes to an instrument's event subtree and routes
// each named event to the handler. The event name is taken from the final
// topic level; messages outside the event subtree are ignored.
func (c *Client) OpenEventChannel(serial string, handler EventHandler) (*EventChannel, error) {
	if !validSerial(serial) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSerial, serial)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	topic := Topics{}.InstrumentEvents(serial)
	err := c.Subscribe(topic, byte(c.cfg.QoS), func(msgTopic string, payload []byte) error {
		_, event, ok := ParseEventTopic(msgTopic)
		if !ok {
			return nil
		}
		handler(event, payload)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("opening event channel for %s: %w", serial, err)
	}

	return &EventChannel{
		client: c,
		serial: serial,
		topic:  topic,
	}, nil
}

// Serial returns the instrument serial this channel is bound to.
func (ch *EventChannel) Serial() string {
	return ch.serial
}

// Close tears down the underlying subscription. Safe to call more than
// once; only the first call talks to the broker.
func (ch *EventChannel) Close() error {
	ch.closeOnce.Do(func() {
		ch.closeErr = ch.client.Unsubscribe(ch.topic)
	})
	return ch.closeErr
}
