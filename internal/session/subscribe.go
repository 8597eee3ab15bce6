package session

func (c *Connection) subscribe(topic string, handler MessageHandler) {
	if topic == "" || handler == nil {
		c.logger.Warn("ignoring subscription without topic or handler", "topic", topic)
		return
	}

	c.subs.Add(topic, handler)
	if c.State() == StateConnected {
		c.subscribeToTarget(topic)
	}
}

func (c *Connection) unsubscribe(topic string) {
	removed, remaining := c.subs.Remove(topic)
	if !removed {
		c.logger.Debug("not subscribed to topic, nothing to remove", "topic", topic)
		return
	}
	if remaining > 0 || c.State() != StateConnected {
		return
	}

	gen := c.generation
	client := c.client
	c.logger.Debug("unsubscribing from topic", "endpoint", c.endpoint.Address(), "topic", topic)
	err := safeCall(func() {
		client.Unsubscribe(topic, func(err error) {
			c.exec.Post(func() {
				if gen == c.generation && err != nil {
					c.logger.Warn("failed to unsubscribe from topic", "topic", topic, "error", err)
				}
			})
		})
	})
	if err != nil {
		c.logger.Warn("failed to unsubscribe from topic", "topic", topic, "error", err)
	}
}

// performSubscriptions re-issues every durable topic once, in first
// registration order.
func (c *Connection) performSubscriptions() {
	for _, topic := range c.subs.DistinctTopics() {
		c.subscribeToTarget(topic)
	}
}

func (c *Connection) subscribeToTarget(topic string) {
	gen := c.generation
	client := c.client
	c.logger.Debug("subscribing to topic", "endpoint", c.endpoint.Address(), "topic", topic)

	err := safeCall(func() {
		client.Subscribe(topic, func(err error) {
			c.exec.Post(func() { c.handleSubscribeResult(gen, topic, err) })
		})
	})
	if err != nil {
		c.handleSubscribeResult(gen, topic, err)
	}
}

func (c *Connection) handleSubscribeResult(gen uint64, topic string, err error) {
	if gen != c.generation {
		return
	}
	if err != nil {
		c.logger.Warn("failed to subscribe to topic, ignoring",
			"endpoint", c.endpoint.Address(),
			"topic", topic,
			"error", err,
		)
		return
	}
	c.emit(Event{Type: EventSubscribed, Topic: topic})
}

// dispatchMessage delivers an inbound message to handlers registered for
// exactly its topic.
func (c *Connection) dispatchMessage(handle uint64, topic string, payload []byte) {
	if handle != c.handle || c.client == nil {
		return
	}

	handlers := c.subs.Handlers(topic)
	if len(handlers) == 0 {
		c.logger.Debug("no handler for message", "topic", topic)
		return
	}
	if c.dispatch == DispatchFirst {
		handlers = handlers[:1]
	}
	for _, h := range handlers {
		c.invokeHandler(h, topic, payload)
	}
}

// invokeHandler runs a message handler with panic recovery.
func (c *Connection) invokeHandler(h MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panic recovered",
				"topic", topic,
				"panic", r,
			)
		}
	}()

	if err := h(topic, payload); err != nil {
		c.logger.Error("message handler error",
			"topic", topic,
			"error", err,
		)
	}
}
