// SPDX-License-Identifier: GPL-3.0-or-later

// Package netpipe implements bidirectional handler pipelines for network connections.
//
// # Core Abstraction
//
// A [*Pipeline] is an ordered chain of named handlers. Inbound events (data
// read from the connection, end of stream, read errors, transport active and
// inactive) enter at the head and visit the inbound-capable handlers in order.
// Outbound events (writes, write errors, close requests) enter at the tail and
// visit the outbound-capable handlers in reverse order, toward the connection.
//
// Handlers come in three variants:
//
//   - [InboundHandler]: reads messages of type In and forwards messages of type Out
//   - [OutboundHandler]: writes messages of type In and forwards messages of type Out
//   - [Handler]: both, with four message types
//
// A handler only knows its typed context ([InboundHandlerContext],
// [OutboundHandlerContext], or [HandlerContext]), whose Fire methods forward
// events to the next handler. Embed [InboundHandlerBase], [OutboundHandlerBase],
// or [HandlerBase] to get the default behavior, which forwards every event
// except Read and Write unchanged. An event that reaches the end of the pipeline
// is logged as endOfPipeline and dropped.
//
// Each handler is wrapped into a [PipelineContext] using [NewInboundContext],
// [NewOutboundContext], or [NewContext] and added by name:
//
//	p := netpipe.NewPipeline(netpipe.NewConfig(), logger)
//	p.AddLast("lines", netpipe.NewInboundContext(netpipe.NewLineDecoder(4096)))
//	p.AddLast("encoder", netpipe.NewOutboundContext(&netpipe.LineEncoder{}))
//	p.AddLast("app", netpipe.NewContext(app))
//	if err := p.Finalize(); err != nil {
//		// duplicate names, missing handlers, incompatible message types
//	}
//
// [*Pipeline.Finalize] wires the links between neighbors and attaches every
// handler. Adjacent handlers whose message types can never match are reported
// as [*LinkTypeError]. Messages still cross links as values of type any: a
// message with an unexpected dynamic type is delivered as a [*MessageTypeError]
// read or write error instead.
//
// # Connections
//
// A [*Channel] drives a pipeline with a [net.Conn]: it fires the connection
// events at the head, and its [*TransportHandler], at the head too, writes the
// outbound bytes to the connection. A channel runs all the handlers of its
// pipeline on a single goroutine. [*Server] accepts connections and creates
// one channel for each of them using a [*ChannelFunc].
//
// Clients build channels by composing [Func] steps with [Compose2],
// [Compose3], etc.: [ConnectFunc], [ObserveConnFunc], [TLSHandshakeFunc],
// then [ChannelFunc], optionally followed by [CancelWatchFunc]. Each step
// closes the connection it received when it fails.
//
// # Codecs
//
// Framing and encoding are just handlers: [LineDecoder], [LineEncoder],
// [LengthFieldFramer], [DNSCodec], plus the [LoggingHandler] pass-through.
//
// # Observability
//
// All components log through [SLogger], which [*slog.Logger] implements. By
// default, logging is disabled. Span events come in *Start/*Done pairs with
// t0, t, err, and errClass; I/O and pipeline events are emitted at
// [slog.LevelDebug]. Each channel has a [NewSpanID] identifier logged as
// spanID. Errors are classified by [ErrClassifier], by default using
// the errclass package.
//
// # Concurrency
//
// A [*Pipeline] is not safe for concurrent use and dispatches synchronously
// in the calling goroutine. [Lifecycle] counters are safe for concurrent use,
// so a handler may be shared across pipelines running on different goroutines.
// [*Channel.Write], [*Channel.Close], and [*Channel.Execute] may be called
// from any goroutine.
package netpipe
