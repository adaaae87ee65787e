// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrEmptyName indicates that a handler was added without a name.
	ErrEmptyName = errors.New("netpipe: empty handler name")

	// ErrDuplicateName indicates that a handler name is already in use.
	ErrDuplicateName = errors.New("netpipe: duplicate handler name")

	// ErrHandlerNotFound indicates that no handler has the given name.
	ErrHandlerNotFound = errors.New("netpipe: no such handler")

	// ErrNilContext indicates that a nil [PipelineContext] was added.
	ErrNilContext = errors.New("netpipe: nil pipeline context")

	// ErrContextInUse indicates that a [PipelineContext] already
	// belongs to a pipeline. Each context occupies exactly one slot.
	ErrContextInUse = errors.New("netpipe: pipeline context already in use")

	// ErrMessageType indicates that a message reached a handler whose
	// input type does not match the message dynamic type.
	ErrMessageType = errors.New("netpipe: unexpected message type")

	// ErrLinkType indicates that two adjacent handlers have message
	// types that can never be compatible.
	ErrLinkType = errors.New("netpipe: incompatible handler message types")

	// ErrChannelClosed indicates that a [*Channel] no longer runs events.
	ErrChannelClosed = errors.New("netpipe: channel closed")

	// ErrLineTooLong indicates that a line exceeds [LineDecoder.MaxLineLength].
	ErrLineTooLong = errors.New("netpipe: line too long")

	// ErrFrameTooLarge indicates that a message does not fit a
	// length-prefixed frame.
	ErrFrameTooLarge = errors.New("netpipe: frame too large")

	// ErrTruncatedFrame indicates that the stream ended in the middle
	// of a length-prefixed frame.
	ErrTruncatedFrame = errors.New("netpipe: truncated frame")
)

// MessageTypeError is the cause delivered through ReadError or WriteError
// instead of a message whose dynamic type does not match the input type
// of the receiving handler.
type MessageTypeError struct {
	// Handler is the name of the receiving handler.
	Handler string

	// Event is either "read" or "write".
	Event string

	// Want is the input type of the receiving handler.
	Want reflect.Type

	// Got is the dynamic type of the message (nil for a nil message).
	Got reflect.Type
}

var _ error = &MessageTypeError{}

// Error implements error.
func (e *MessageTypeError) Error() string {
	return fmt.Sprintf("%s: %s: handler %q wants %s, got %s",
		ErrMessageType.Error(), e.Event, e.Handler, typeName(e.Want), typeName(e.Got))
}

// Unwrap allows using errors.Is with [ErrMessageType].
func (e *MessageTypeError) Unwrap() error {
	return ErrMessageType
}

// LinkTypeError is returned by [*Pipeline.Finalize] when the output type of
// a handler cannot be assigned to the input type of the next handler in the
// same direction.
type LinkTypeError struct {
	// Direction is either [Inbound] or [Outbound].
	Direction Direction

	// From is the name of the upstream handler.
	From string

	// To is the name of the downstream handler.
	To string

	// Out is the output type of From.
	Out reflect.Type

	// In is the input type of To.
	In reflect.Type
}

var _ error = &LinkTypeError{}

// Error implements error.
func (e *LinkTypeError) Error() string {
	return fmt.Sprintf("%s: %s link %q -> %q: %s is not assignable to %s",
		ErrLinkType.Error(), e.Direction, e.From, e.To, typeName(e.Out), typeName(e.In))
}

// Unwrap allows using errors.Is with [ErrLinkType].
func (e *LinkTypeError) Unwrap() error {
	return ErrLinkType
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
