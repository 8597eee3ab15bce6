package mqtt

import (
	"fmt"
)

// Subscribe subscribes to a topic filter at the endpoint's QoS. Messages are
// delivered through Callbacks.OnMessage.
func (c *Client) Subscribe(topic string, done func(err error)) {
	if err := ValidateTopicFilter(topic); err != nil {
		done(fmt.Errorf("%w: %w", ErrSubscribeFailed, err))
		return
	}
	if err := c.checkQoS(); err != nil {
		done(fmt.Errorf("%w: %w", ErrSubscribeFailed, err))
		return
	}
	if !c.IsConnected() {
		done(fmt.Errorf("%w: %w", ErrSubscribeFailed, ErrNotConnected))
		return
	}

	token := c.client.Subscribe(topic, c.endpoint.QoS, nil)
	c.await(token, defaultOperationTimeout, ErrSubscribeFailed, done)
}

// Unsubscribe removes a subscription for exactly topic.
func (c *Client) Unsubscribe(topic string, done func(err error)) {
	if err := ValidateTopicFilter(topic); err != nil {
		done(fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err))
		return
	}
	if !c.IsConnected() {
		done(fmt.Errorf("%w: %w", ErrUnsubscribeFailed, ErrNotConnected))
		return
	}

	token := c.client.Unsubscribe(topic)
	c.await(token, defaultOperationTimeout, ErrUnsubscribeFailed, done)
}
