//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.0/internal/x/dslx/fxasync.go
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.0/internal/x/dslx/fxcore.go
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.0/internal/x/dslx/fxstream.go
//

package netpipe

import (
	"context"
	"net/netip"
)

// Compose2 returns a [Func] calling op1 and then op2 with its result.
//
// When op1 fails, op2 is not called.
func Compose2[A, B, C any](op1 Func[A, B], op2 Func[B, C]) Func[A, C] {
	return FuncAdapter[A, C](func(ctx context.Context, input A) (C, error) {
		mid, err := op1.Call(ctx, input)
		if err != nil {
			var zero C
			return zero, err
		}
		return op2.Call(ctx, mid)
	})
}

// Compose3 is like [Compose2] with three stages.
func Compose3[A, B, C, D any](op1 Func[A, B], op2 Func[B, C], op3 Func[C, D]) Func[A, D] {
	return Compose2(Compose2(op1, op2), op3)
}

// Compose4 is like [Compose2] with four stages.
func Compose4[A, B, C, D, E any](op1 Func[A, B], op2 Func[B, C], op3 Func[C, D], op4 Func[D, E]) Func[A, E] {
	return Compose2(Compose3(op1, op2, op3), op4)
}

// Compose5 is like [Compose2] with five stages.
func Compose5[A, B, C, D, E, F any](
	op1 Func[A, B], op2 Func[B, C], op3 Func[C, D], op4 Func[D, E], op5 Func[E, F]) Func[A, F] {
	return Compose2(Compose4(op1, op2, op3, op4), op5)
}

// Compose6 is like [Compose2] with six stages, which is enough for
// endpoint, connect, observe, cancel-watch, TLS handshake, and channel.
func Compose6[A, B, C, D, E, F, G any](
	op1 Func[A, B], op2 Func[B, C], op3 Func[C, D], op4 Func[D, E], op5 Func[E, F], op6 Func[F, G]) Func[A, G] {
	return Compose2(Compose5(op1, op2, op3, op4, op5), op6)
}

// Apply binds input to fn, returning a [Func] taking [Unit].
func Apply[A, B any](fn Func[A, B], input A) Func[Unit, B] {
	return FuncAdapter[Unit, B](func(ctx context.Context, _ Unit) (B, error) {
		return fn.Call(ctx, input)
	})
}

// ConstFunc returns a [Func] that always returns value.
func ConstFunc[B any](value B) Func[Unit, B] {
	return FuncAdapter[Unit, B](func(ctx context.Context, _ Unit) (B, error) {
		return value, nil
	})
}

// NewEndpointFunc returns a [Func] producing the given endpoint, to be
// used as the first stage of a dial pipeline.
func NewEndpointFunc(endpoint netip.AddrPort) Func[Unit, netip.AddrPort] {
	return ConstFunc(endpoint)
}
