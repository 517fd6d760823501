package mqtt

import (
	"fmt"
)

// Subscribe registers handler for a topic filter. Filters may use the +
// and # wildcards, e.g. Topics.AllSensorReadings. Re-subscribing a filter
// replaces its handler. The filter is restored after every reconnect.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if filter == "" {
		return fmt.Errorf("%w: empty filter", ErrInvalidTopic)
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	if handler == nil {
		return fmt.Errorf("%w: %s: nil handler", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.track(filter, subscription{qos: qos, handler: handler})
	if err := await(c.client.Subscribe(filter, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.untrack(filter)
		return fmt.Errorf("subscribing to %s: %w", filter, err)
	}
	return nil
}

// Unsubscribe drops the subscription for filter. Messages already in flight
// may still reach the old handler.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: empty filter", ErrInvalidTopic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.untrack(filter)
	if err := await(c.client.Unsubscribe(filter), ErrUnsubscribeFailed); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", filter, err)
	}
	return nil
}

func (c *Client) track(filter string, sub subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subscriptions == nil {
		c.subscriptions = make(map[string]subscription)
	}
	c.subscriptions[filter] = sub
}

func (c *Client) untrack(filter string) {
	c.subMu.Lock()
	delete(c.subscriptions, filter)
	c.subMu.Unlock()
}
