package mocks

import (
	evbus "github.com/asaskevich/EventBus"
)

// Emitter implements the On/RemoveListener half of an EIP-1193 provider.
// Listeners are identified by function value.
type Emitter struct {
	bus evbus.Bus
}

// NewEmitter creates an emitter with no listeners.
func NewEmitter() *Emitter {
	return &Emitter{bus: evbus.New()}
}

// On registers handler for event. handler must be a func.
func (e *Emitter) On(event string, handler any) error {
	return e.bus.Subscribe(event, handler)
}

// RemoveListener unregisters handler for event.
func (e *Emitter) RemoveListener(event string, handler any) error {
	return e.bus.Unsubscribe(event, handler)
}

// Emit calls every listener of event synchronously with args. Listeners must
// not add or remove listeners from inside the call.
func (e *Emitter) Emit(event string, args ...any) {
	e.bus.Publish(event, args...)
}

// HasListeners reports whether event has any listener.
func (e *Emitter) HasListeners(event string) bool {
	return e.bus.HasCallback(event)
}
