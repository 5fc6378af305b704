// Package eventbus provides the in-process event bus used to connect
// independently developed modules.
//
// Listeners subscribe to dot-separated patterns:
//
//	bus.On("module.*", handler)     // module.loaded, not module.chat.loaded
//	bus.On("chat.**", handler)      // chat.message, chat.message.read
//	bus.On("*", handler)            // everything
//
// Emitted events are queued and dispatched in batches, either when the queue
// reaches the batch size or when the batch timeout elapses. Within a batch,
// events are grouped by type; each matching listener runs once per event,
// listeners in descending priority, events in arrival order. Batches are
// dispatched one at a time, so non-urgent events keep FIFO order.
//
// Events with a priority above 8 skip the queue and are dispatched on the
// emitting goroutine. They can therefore be observed before normal events
// emitted earlier that are still waiting in the queue.
//
// A handler that returns an error or panics never stops delivery to other
// listeners. The failure is logged and re-emitted as a system.error event
// whose payload is a SystemError.
//
// Under overload the bus is lossy: a periodic sweep drops the oldest events
// once the queue holds more than ten batches, and a memory sweep truncates
// the queue to a single batch when the estimated footprint exceeds the
// configured limit.
package eventbus
