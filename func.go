// SPDX-License-Identifier: GPL-3.0-or-later

package netpipe

import "context"

// Func is a typed operation that turns an input into a result.
//
// Funcs are the dial-side building blocks of this package: a connection
// is obtained by composing [ConnectFunc], [ObserveConnFunc], and
// [TLSHandshakeFunc], bound to a pipeline by [ChannelFunc], and tied to
// the context by [CancelWatchFunc].
// The compiler checks, through [Compose2] and friends, that the output of
// each stage matches the input of the next one.
//
// Resource cleanup contract: a Func receiving a closeable resource that
// fails must close the resource before returning the error, so that
// composed operations do not leak on partial failure.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter turns a function into a [Func].
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}

// Unit is the type without values, used as the input of a [Func]
// that does not need one.
type Unit struct{}
