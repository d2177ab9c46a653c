// Package dbuswire implements the write side of the DBus wire
// format: deriving type signatures for Go values, marshaling values
// with DBus alignment rules, and framing complete messages (header
// plus body) ready to be written to a bus transport.
//
// The package deliberately stops at the byte level. Connection
// establishment, authentication and bus registration are the
// responsibility of the [transport] package, and bus semantics such
// as method dispatch or name ownership are out of scope entirely.
//
// A [Message] is an immutable value: build it, then hand it to
// [Message.Marshal] or [Message.EncodeTo]. Messages may be shared
// read-only across goroutines encoding to independent sinks.
package dbuswire
