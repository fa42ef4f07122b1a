package bus

import "errors"

var (
	// ErrTransport is returned when the underlying transport cannot be reached.
	ErrTransport = errors.New("bus: transport unavailable")
	// ErrSerialization is returned for payloads that cannot be encoded or decoded.
	ErrSerialization = errors.New("bus: malformed payload")
	// ErrUnknownChannel is returned for channel names outside the fixed set.
	ErrUnknownChannel = errors.New("bus: unknown channel")
	// ErrHandler wraps a failure (error or panic) raised by a registered handler.
	ErrHandler = errors.New("bus: handler failed")
	// ErrBuffered means the payload was not delivered but kept for replay.
	ErrBuffered = errors.New("bus: payload buffered for replay")
	// ErrBufferOverflow is reported when the publish buffer evicts its oldest entry.
	ErrBufferOverflow = errors.New("bus: publish buffer overflow")
	// ErrReconnectExhausted is surfaced once every reconnect attempt has failed.
	ErrReconnectExhausted = errors.New("bus: reconnect attempts exhausted")
	// ErrDegraded is returned while the publisher is in the degraded state.
	ErrDegraded = errors.New("bus: publisher degraded")
	// ErrReceiveTimeout is returned by Subscription.Receive when no message arrived in time.
	ErrReceiveTimeout = errors.New("bus: receive timeout")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bus: closed")
)
