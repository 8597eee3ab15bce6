package session

import "fmt"

type publishRequest struct {
	topic   string
	payload []byte

	// attempts counts failed sends of this request.
	attempts int
}

func (c *Connection) publish(req publishRequest) {
	if c.State() != StateConnected {
		c.logger.Debug("dropping publish, not connected",
			"endpoint", c.endpoint.Address(),
			"topic", req.topic,
		)
		return
	}
	c.sendPublish(req)
}

func (c *Connection) sendPublish(req publishRequest) {
	gen := c.generation
	client := c.client
	c.logger.Debug("publishing message",
		"endpoint", c.endpoint.Address(),
		"topic", req.topic,
		"bytes", len(req.payload),
	)

	err := safeCall(func() {
		client.Publish(req.topic, req.payload, func(err error) {
			c.exec.Post(func() { c.handlePublishResult(gen, req, err) })
		})
	})
	if err != nil {
		c.handlePublishResult(gen, req, err)
	}
}

// handlePublishResult queues failed publishes and re-establishes the
// transport to retry them. Each request has its own budget of
// MaxConnectionRetries resends, so publishes broken by the same link failure
// are all retried on the next connect.
func (c *Connection) handlePublishResult(gen uint64, req publishRequest, err error) {
	if c.client == nil {
		c.logger.Debug("discarding publish result after disconnect", "topic", req.topic)
		return
	}
	if err == nil {
		return
	}

	req.attempts++
	c.logger.Warn("failed to publish message",
		"endpoint", c.endpoint.Address(),
		"topic", req.topic,
		"attempt", req.attempts,
		"error", err,
	)

	limit := c.endpoint.MaxConnectionRetries
	if limit != 0 && req.attempts > limit {
		c.logger.Warn("max publish retries reached, giving up",
			"endpoint", c.endpoint.Address(),
			"topic", req.topic,
		)
		cur := c.generation
		c.emit(Event{
			Type:    EventMaxPublishRetriesReached,
			Topic:   req.topic,
			Attempt: req.attempts,
			Err:     fmt.Errorf("%w: %w", ErrMaxPublishRetries, err),
		})
		if cur != c.generation {
			return
		}
		c.disconnectFromServer()
		return
	}

	switch {
	case gen == c.generation && c.State() == StateConnected:
		c.retries = append(c.retries, req)
		c.logger.Info("re-establishing connection to retry publish",
			"endpoint", c.endpoint.Address(),
			"pending", len(c.retries),
		)
		c.connectToTarget()
	case c.State() == StateConnected:
		// The transport was already replaced after this attempt was sent.
		c.sendPublish(req)
	default:
		// A reconnect is in progress; the flush on connect resends it.
		c.retries = append(c.retries, req)
	}
}

// flushPublishRetries re-sends queued publishes in order. Anything left when
// the connection stops being connected mid-flush stays queued.
func (c *Connection) flushPublishRetries() {
	pending := c.retries
	c.retries = nil
	for i, req := range pending {
		if c.State() != StateConnected {
			c.retries = append(c.retries, pending[i:]...)
			return
		}
		c.sendPublish(req)
	}
}
