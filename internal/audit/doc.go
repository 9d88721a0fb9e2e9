// Package audit relays security events from the engine to pluggable sinks
// without blocking login paths.
//
// [Dispatcher] buffers events and forwards them from a single goroutine. When
// the buffer is full it either drops (counting drops) or blocks until the
// caller's context ends. Sinks: [NoOpSink], [ChannelSink], [JSONWriterSink]
// and [ZerologSink].
//
// The package never decides which events to emit and never imports the root
// package.
package audit
