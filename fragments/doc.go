// Package fragments provides low-level encoding helpers to construct
// DBus wire format messages.
//
// The provided encoder is very low level, and does not enforce any
// DBus semantics. It is the caller's responsibility to produce valid
// DBus messages using these tools.
//
// You should not need to use this package at all, unless you are
// writing your own dbuswire.Marshaler implementations, in which case
// your code will be handed a [fragments.Encoder] and expected to
// produce correct DBus fragments with it.
package fragments
