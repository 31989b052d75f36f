package mqtt

// Subscribe routes messages matching topic to handler. The route is kept
// and re-subscribed after every reconnect. Wildcards (+ and #) are allowed.
//
// Parameters:
//   - topic: Topic filter, e.g. Topics{}.AllSensorStatus()
//   - qos: Maximum delivery level (0-2)
//   - handler: Called once per message on a paho goroutine
//
// Returns:
//   - error: Validation sentinel, ErrNotConnected, or *BrokerError
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return ErrNilHandler
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.mu.Lock()
	c.routes[topic] = route{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := await("subscribe", topic, c.paho.Subscribe(topic, qos, c.deliver(handler)), ackTimeout); err != nil {
		c.mu.Lock()
		delete(c.routes, topic)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe drops the routes for the given topic filters and tells the
// broker to stop delivering them. Routes are forgotten even when the
// broker cannot be reached, so they are not restored on reconnect.
//
// Parameters:
//   - topics: One or more filters previously passed to Subscribe
//
// Returns:
//   - error: ErrInvalidTopic, ErrNotConnected, or *BrokerError
func (c *Client) Unsubscribe(topics ...string) error {
	if len(topics) == 0 {
		return ErrInvalidTopic
	}
	for _, t := range topics {
		if t == "" {
			return ErrInvalidTopic
		}
	}

	c.mu.Lock()
	for _, t := range topics {
		delete(c.routes, t)
	}
	c.mu.Unlock()

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await("unsubscribe", topics[0], c.paho.Unsubscribe(topics...), ackTimeout)
}
