package sysiface

import "sync"

// Bus delivers Message values to per-hart handlers, standing in for the
// original's linker-registered CPU_MSG_HANDLER table: here a handler
// registers itself at runtime instead, which is the idiomatic Go
// replacement for a static handler-id dispatch table (see vctrl/line.go).
type Bus struct {
	mu       sync.RWMutex
	handlers map[uint32][]func(Message)
}

// NewBus returns an empty message bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[uint32][]func(Message))}
}

// Register appends fn to the handlers called for messages addressed to
// phartID. Multiple VMs sharing a physical hart each register their own
// handler; Send calls every one of them.
func (b *Bus) Register(phartID uint32, fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[phartID] = append(b.handlers[phartID], fn)
}

// Send implements Messenger. It calls the target hart's handlers
// synchronously in the caller's goroutine, mirroring the original's
// same-core-interrupt-context delivery; callers that need asynchronous
// delivery should invoke Send from their own goroutine.
func (b *Bus) Send(phartID uint32, msg Message) {
	b.mu.RLock()
	fns := b.handlers[phartID]
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(msg)
	}
}

// FirmwareBus routes SendIPI through the same per-hart handler table,
// since in this simulation both the line-update message and the bare
// wakeup use the same "go look at your shadow state" handler.
type FirmwareBus struct {
	bus *Bus
}

// NewFirmwareBus wraps an existing Bus for use as a FirmwareIPI.
func NewFirmwareBus(bus *Bus) *FirmwareBus {
	return &FirmwareBus{bus: bus}
}

func (f *FirmwareBus) SendIPI(phartID uint32) {
	f.bus.Send(phartID, Message{})
}
