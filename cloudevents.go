package opscore

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/GoCodeAlone/opscore/eventbus"
)

// ObserveCloudEvents forwards bus events matching pattern to fn as
// CloudEvents. The returned function removes the listener.
func (c *Core) ObserveCloudEvents(pattern string, fn func(ctx context.Context, ce cloudevents.Event) error) (func(), error) {
	id, err := c.bus.On(pattern, func(ctx context.Context, e eventbus.Event) error {
		ce := e.CloudEvent()
		if err := ce.Validate(); err != nil {
			return err
		}
		return fn(ctx, ce)
	}, eventbus.DefaultListenerPriority)
	if err != nil {
		return nil, err
	}
	return func() { c.bus.Off(id) }, nil
}
