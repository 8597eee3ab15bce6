package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends payload to topic at the endpoint's QoS, not retained.
//
// QoS Levels:
//   - 0: At most once (done fires once the packet is written)
//   - 1: At least once (done fires on PUBACK)
//   - 2: Exactly once (done fires on PUBCOMP)
//
// done receives nil on success or an error wrapping ErrPublishFailed.
//
// Example:
//
//	client.Publish("site/lamp/set", []byte(`{"on":true}`), func(err error) {
//	    if err != nil {
//	        log.Printf("publish failed: %v", err)
//	    }
//	})
func (c *Client) Publish(topic string, payload []byte, done func(err error)) {
	if err := ValidateTopicName(topic); err != nil {
		done(fmt.Errorf("%w: %w", ErrPublishFailed, err))
		return
	}
	if err := c.checkQoS(); err != nil {
		done(fmt.Errorf("%w: %w", ErrPublishFailed, err))
		return
	}
	if len(payload) > maxPayloadSize {
		done(fmt.Errorf("%w: %w: size %d exceeds maximum %d bytes",
			ErrPublishFailed, ErrPayloadTooLarge, len(payload), maxPayloadSize))
		return
	}
	if !c.IsConnected() {
		done(fmt.Errorf("%w: %w", ErrPublishFailed, ErrNotConnected))
		return
	}

	token := c.client.Publish(topic, c.endpoint.QoS, false, payload)
	c.await(token, defaultOperationTimeout, ErrPublishFailed, done)
}
