package dbuswire

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/dbuswire/dbuswire/fragments"
)

// MaxMessageSize is the maximum length of a message, including
// header, header alignment padding, and body: 2^27 bytes (128 MiB).
// Implementations must not send or accept messages exceeding this
// size.
const MaxMessageSize = 1 << 27

// ProtocolVersion is the major protocol version this package speaks.
// Peers with a different major version cannot communicate and must
// disconnect.
const ProtocolVersion = 1

// A Serial is the sender-chosen cookie that correlates replies with
// requests. The zero serial is reserved and never valid on a message.
type Serial uint32

// NewSerial returns n as a Serial. It returns [ErrZeroSerial] if n is
// zero; a zero serial is never silently coerced to anything else.
func NewSerial(n uint32) (Serial, error) {
	if n == 0 {
		return 0, ErrZeroSerial
	}
	return Serial(n), nil
}

// MustSerial is like [NewSerial] but panics on a zero serial. It is
// intended for constants and tests.
func MustSerial(n uint32) Serial {
	s, err := NewSerial(n)
	if err != nil {
		panic(err)
	}
	return s
}

// A MessageType discriminates the role of a message. Readers must
// tolerate unknown types; writers must never produce them.
type MessageType byte

const (
	TypeInvalid MessageType = iota
	TypeMethodCall
	TypeMethodReturn
	TypeErrorReply
	TypeSignal
)

func (t MessageType) String() string {
	switch t {
	case TypeMethodCall:
		return "method_call"
	case TypeMethodReturn:
		return "method_return"
	case TypeErrorReply:
		return "error"
	case TypeSignal:
		return "signal"
	default:
		return fmt.Sprintf("invalid(%d)", byte(t))
	}
}

// Flags is the bit-set of behavior hints in a message header. Readers
// ignore unknown bits rather than rejecting them.
type Flags byte

const (
	// FlagNoReplyExpected indicates the sender does not want a method
	// return or error reply, even for a type that can have one.
	FlagNoReplyExpected Flags = 1 << iota
	// FlagNoAutoStart tells the bus not to launch an owner for the
	// destination name in response to this message.
	FlagNoAutoStart
	// FlagAllowInteractiveAuthorization indicates the caller is
	// prepared to wait for interactive authorization.
	FlagAllowInteractiveAuthorization
)

// Header field codes. Code 0 is reserved: a message carrying it is
// invalid, and this package refuses to encode it.
const (
	fieldInvalid = iota
	fieldPath
	fieldInterface
	fieldMember
	fieldErrorName
	fieldReplySerial
	fieldDestination
	fieldSender
	fieldSignature
	fieldUnixFDs

	lastKnownField = fieldUnixFDs
)

// A Message is one complete DBus message: the header metadata plus
// zero or more typed body arguments.
//
// A Message is a plain value. Once built it is not mutated by this
// package, and it may be shared read-only across concurrent encodes
// to independent sinks.
type Message struct {
	// Type is the message's role. Required, and must be one of the
	// four known writable types.
	Type MessageType
	// Flags is the message's flag bit-set.
	Flags Flags
	// Serial is the sender's correlation cookie. Must be non-zero.
	Serial Serial

	// Path is the target object for a call, or the emitting object
	// for a signal. Required for TypeMethodCall and TypeSignal.
	Path ObjectPath
	// Interface is the interface to invoke a method on, or the
	// interface a signal is emitted from. Required for TypeSignal.
	Interface string
	// Member is the method or signal name. Required for
	// TypeMethodCall and TypeSignal.
	Member string
	// ErrorName is the name of the error that occurred. Required for
	// TypeErrorReply.
	ErrorName string
	// ReplySerial is the serial of the message this message replies
	// to. Required for TypeMethodReturn and TypeErrorReply.
	ReplySerial Serial
	// Destination is the bus name this message is intended for.
	// Optional.
	Destination string
	// Sender is the unique name of the sending connection. The bus
	// overwrites this value, but clients may set it.
	Sender string
	// NumFDs is the number of file descriptors accompanying the
	// message as ancillary data. The body refers to them by [UnixFD]
	// index.
	NumFDs uint32

	// Extra holds forward-compatible header fields by code. Only
	// codes above the known range are accepted; code 0 is reserved
	// and fails encoding with [ErrInvalidHeaderField].
	Extra map[uint8]Variant

	// Body is the ordered sequence of argument values. The body
	// signature is derived from the arguments' static types.
	Body []any
}

// Valid checks the invariants that must hold before any byte of the
// message is encoded: a known writable type, a non-zero serial, and
// the header fields required for the message's type.
func (m *Message) Valid() error {
	if m.Serial == 0 {
		return ErrZeroSerial
	}
	switch m.Type {
	case TypeMethodCall:
		if m.Path == "" {
			return fmt.Errorf("%s message missing required header field Path", m.Type)
		}
		if m.Member == "" {
			return fmt.Errorf("%s message missing required header field Member", m.Type)
		}
	case TypeMethodReturn:
		if m.ReplySerial == 0 {
			return fmt.Errorf("%s message missing required header field ReplySerial", m.Type)
		}
	case TypeErrorReply:
		if m.ErrorName == "" {
			return fmt.Errorf("%s message missing required header field ErrorName", m.Type)
		}
		if m.ReplySerial == 0 {
			return fmt.Errorf("%s message missing required header field ReplySerial", m.Type)
		}
	case TypeSignal:
		if m.Path == "" {
			return fmt.Errorf("%s message missing required header field Path", m.Type)
		}
		if m.Interface == "" {
			return fmt.Errorf("%s message missing required header field Interface", m.Type)
		}
		if m.Member == "" {
			return fmt.Errorf("%s message missing required header field Member", m.Type)
		}
	default:
		// Readers must tolerate unknown message types, but writers
		// must never produce them.
		return fmt.Errorf("cannot encode message of type %s", m.Type)
	}
	for code := range m.Extra {
		if code == fieldInvalid {
			return ErrInvalidHeaderField
		}
		if code <= lastKnownField {
			return fmt.Errorf("extra header field %d shadows a known field, set it via its typed Message field", code)
		}
	}
	return nil
}

// Marshal returns the complete wire encoding of the message in the
// given byte order: fixed header, header field array, padding to an
// 8-byte boundary, then the body.
//
// Marshal validates the message and enforces [MaxMessageSize] before
// returning; a message that fails either check produces no bytes.
func (m *Message) Marshal(ord fragments.ByteOrder) ([]byte, error) {
	if err := m.Valid(); err != nil {
		return nil, err
	}

	body, bodySig, err := m.marshalBody(ord)
	if err != nil {
		return nil, err
	}

	e := fragments.Encoder{
		Order:  ord,
		Mapper: typeEncoder,
	}
	e.ByteOrderFlag()
	e.Uint8(byte(m.Type))
	e.Uint8(byte(m.Flags))
	e.Uint8(ProtocolVersion)
	e.Uint32(uint32(len(body)))
	e.Uint32(uint32(m.Serial))

	if err := m.marshalFields(&e, bodySig); err != nil {
		return nil, err
	}

	// The body always starts on an 8-byte boundary, padding the
	// header as needed.
	e.Pad(8)
	e.Write(body)

	if len(e.Out) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, len(e.Out), MaxMessageSize)
	}
	return e.Out, nil
}

// EncodeTo writes the message's wire encoding to w and returns the
// number of bytes written. The message is framed in full before the
// sink sees any of it, so validation and size failures write nothing.
// Sink write errors propagate verbatim; a failed write poisons the
// stream and the caller must discard it.
func (m *Message) EncodeTo(w io.Writer, ord fragments.ByteOrder) (int64, error) {
	bs, err := m.Marshal(ord)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(bs)
	return int64(n), err
}

// marshalBody encodes the body arguments and derives the body
// signature. Alignment inside the body is computed from the body's
// start, which is sound because the body begins on an 8-byte
// boundary.
func (m *Message) marshalBody(ord fragments.ByteOrder) ([]byte, string, error) {
	if len(m.Body) == 0 {
		return nil, "", nil
	}
	var (
		bs   []byte
		sigs = make([]string, 0, len(m.Body))
	)
	for i, arg := range m.Body {
		sig, err := SignatureOf(arg)
		if err != nil {
			return nil, "", fmt.Errorf("body argument %d: %w", i, err)
		}
		sigs = append(sigs, sig.String())
		bs, err = MarshalAppend(bs, arg, ord)
		if err != nil {
			return nil, "", fmt.Errorf("body argument %d: %w", i, err)
		}
	}
	bodySig := strings.Join(sigs, "")
	if len(bodySig) > MaxSignatureLen {
		return nil, "", fmt.Errorf("body signature %q exceeds %d bytes", bodySig, MaxSignatureLen)
	}
	return bs, bodySig, nil
}

// marshalFields writes the header field array: one (code, variant)
// struct per present field, in ascending code order.
func (m *Message) marshalFields(e *fragments.Encoder, bodySig string) error {
	type field struct {
		code uint8
		emit func(*fragments.Encoder) error
	}
	str := func(sig, val string) func(*fragments.Encoder) error {
		return func(e *fragments.Encoder) error {
			e.Signature(sig)
			e.String(val)
			return nil
		}
	}
	u32 := func(val uint32) func(*fragments.Encoder) error {
		return func(e *fragments.Encoder) error {
			e.Signature("u")
			e.Uint32(val)
			return nil
		}
	}

	var fields []field
	if m.Path != "" {
		fields = append(fields, field{fieldPath, str("o", string(m.Path))})
	}
	if m.Interface != "" {
		fields = append(fields, field{fieldInterface, str("s", m.Interface)})
	}
	if m.Member != "" {
		fields = append(fields, field{fieldMember, str("s", m.Member)})
	}
	if m.ErrorName != "" {
		fields = append(fields, field{fieldErrorName, str("s", m.ErrorName)})
	}
	if m.ReplySerial != 0 {
		fields = append(fields, field{fieldReplySerial, u32(uint32(m.ReplySerial))})
	}
	if m.Destination != "" {
		fields = append(fields, field{fieldDestination, str("s", m.Destination)})
	}
	if m.Sender != "" {
		fields = append(fields, field{fieldSender, str("s", m.Sender)})
	}
	if bodySig != "" {
		fields = append(fields, field{fieldSignature, func(e *fragments.Encoder) error {
			e.Signature("g")
			e.Signature(bodySig)
			return nil
		}})
	}
	if m.NumFDs > 0 {
		fields = append(fields, field{fieldUnixFDs, u32(m.NumFDs)})
	}

	extraCodes := make([]uint8, 0, len(m.Extra))
	for code := range m.Extra {
		extraCodes = append(extraCodes, code)
	}
	slices.Sort(extraCodes)
	for _, code := range extraCodes {
		v := m.Extra[code]
		fields = append(fields, field{code, func(e *fragments.Encoder) error {
			return e.Value(v)
		}})
	}

	return e.Array(8, func() error {
		for _, f := range fields {
			err := e.Struct(func() error {
				e.Uint8(f.code)
				return f.emit(e)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
