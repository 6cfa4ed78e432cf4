package events

import (
	"fmt"
	"sync"

	"agencycrm/internal/models"
	console "agencycrm/internal/utils/logger"
)

var log = console.New("EVENTS")

// Settled is published once per optimistic mutation that reached a terminal
// state. Topic is "<resource>.committed" or "<resource>.rolled_back".
type Settled struct {
	Resource  models.Resource
	EntityID  string
	Operation models.Operation
	Outcome   models.MutationState
	Role      string
	Patch     map[string]interface{}
	Err       error
}

// Topic names the bus topic for a settled mutation.
func Topic(resource models.Resource, outcome models.MutationState) string {
	if outcome == models.StateCommitted {
		return fmt.Sprintf("%s.committed", resource)
	}
	return fmt.Sprintf("%s.rolled_back", resource)
}

type EventHandler func(interface{})

type EventBus struct {
	handlers map[string][]EventHandler
	// wildcard handlers receive every event
	wildcard []EventHandler
	mu       sync.RWMutex
	async    bool
	wg       sync.WaitGroup
}

// NewEventBus returns a bus that runs each handler on its own goroutine.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[string][]EventHandler),
		async:    true,
	}
}

// NewSyncEventBus returns a bus that runs handlers inline, in registration order.
func NewSyncEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[string][]EventHandler),
	}
}

// On registers a handler for an event; "*" subscribes to every event.
func (bus *EventBus) On(event string, handler EventHandler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	if event == "*" {
		bus.wildcard = append(bus.wildcard, handler)
	} else {
		bus.handlers[event] = append(bus.handlers[event], handler)
	}
	log.Debug("Registered handler for event: %s", event)
}

// Emit triggers an event with the given data
func (bus *EventBus) Emit(event string, data interface{}) {
	bus.mu.RLock()
	handlers := make([]EventHandler, 0, len(bus.handlers[event])+len(bus.wildcard))
	handlers = append(handlers, bus.handlers[event]...)
	handlers = append(handlers, bus.wildcard...)
	bus.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	log.Debug("Emitting event: %s", event)

	for _, handler := range handlers {
		if !bus.async {
			bus.run(handler, data)
			continue
		}
		bus.wg.Add(1)
		go func(h EventHandler) {
			defer bus.wg.Done()
			bus.run(h, data)
		}(handler)
	}
}

func (bus *EventBus) run(h EventHandler, data interface{}) {
	defer func() {
		if r := recover(); r != nil {
			_ = log.Error("Panic in event handler", fmt.Errorf("panic: %v", r))
		}
	}()
	h(data)
}

// Wait blocks until every asynchronous handler started so far has returned.
func (bus *EventBus) Wait() {
	bus.wg.Wait()
}
