package bridge

import (
	"fmt"
	"weak"
)

// Listener receives relayed chunks on the relay (or dispatch) thread.
// A returned error is logged and counted; it never stops the relay.
type Listener interface {
	OnDataReceived(data *SerialData) error
}

// ListenerPointer constrains SetListener to pointer listeners, which is what
// a weak reference can be taken of.
type ListenerPointer[T any] interface {
	*T
	Listener
}

// Runtime models the host execution context listeners live in. Delivery
// attaches the relay thread for the duration of a call when it is not
// already attached, and leaves an existing attachment alone.
type Runtime interface {
	Attached() bool
	Attach() error
	Detach() error
}

// goRuntime is used when the listener is plain Go code: always attached.
type goRuntime struct{}

func (goRuntime) Attached() bool { return true }
func (goRuntime) Attach() error  { return nil }
func (goRuntime) Detach() error  { return nil }

// binding is resolved once per SetListener call.
type binding struct {
	name  string
	alive func() bool

	// call invokes the listener; alive is false when it has been collected.
	call func(data *SerialData) (alive bool, err error)

	// newData builds the payload handed to call.
	newData func(control PacketControl, payload []byte, attrs Attributes) *SerialData
}

// SetListener registers l, replacing any previous listener. Only a weak
// reference is kept: the bridge never extends the listener's lifetime, and a
// collected listener behaves like no listener at all. A nil l clears the
// registration.
//
//	fwd := serialport.NewForwarder(...)
//	bridge.SetListener(b, fwd)
//	defer runtime.KeepAlive(fwd)
func SetListener[T any, P ListenerPointer[T]](b *Bridge, l P) {
	if l == nil {
		b.binding.Store(nil)
		b.logger.Debug("Listener cleared")
		return
	}

	ref := weak.Make((*T)(l))
	call := func(data *SerialData) (bool, error) {
		strong := ref.Value()
		if strong == nil {
			return false, nil
		}
		return true, P(strong).OnDataReceived(data)
	}
	bind := &binding{
		name:    fmt.Sprintf("%T", l),
		alive:   func() bool { return ref.Value() != nil },
		call:    call,
		newData: newSerialData,
	}
	b.binding.Store(bind)
	b.logger.WithField("listener", bind.name).Debug("Listener registered")
}

// HasListener reports whether a listener is registered and still reachable.
func (b *Bridge) HasListener() bool {
	bind := b.binding.Load()
	if bind == nil {
		return false
	}
	return bind.alive()
}
