package dbuswire

import (
	"errors"
	"math"
	"reflect"
	"slices"

	"github.com/dbuswire/dbuswire/fragments"
)

// Marshal returns the DBus wire encoding of v, using the given byte
// order.
//
// Marshal traverses the value v recursively. If an encountered value
// implements [Marshaler], Marshal calls MarshalDBus on it to produce
// its encoding.
//
// Otherwise, Marshal uses the following type-dependent default
// encodings:
//
// uint{8,16,32,64}, int{16,32,64}, float64, bool and string values
// encode to the corresponding DBus basic type. Booleans encode as a
// uint32 restricted to 0 or 1; Go's bool makes other stored values
// unrepresentable.
//
// Array and slice values encode as DBus arrays. Nil slices encode the
// same as an empty slice.
//
// Struct values encode as DBus structs. Each exported struct field is
// encoded in declaration order, according to its own type. Embedded
// struct fields are encoded as if their inner exported fields were
// fields in the outer struct, subject to the usual Go visibility
// rules.
//
// Map values encode as a DBus dictionary, i.e. an array of key/value
// pairs. The map's key underlying type must be uint{8,16,32,64},
// int{16,32,64}, float64, bool, or string. Entries are emitted in
// ascending key order, one entry per key.
//
// Pointer values encode as the value pointed to. A nil pointer
// encodes as the zero value of the type pointed to.
//
// [Signature], [ObjectPath], [UnixFD] and [Variant] values encode to
// the corresponding DBus types. Values of type any encode as DBus
// variants carrying their dynamic value.
//
// int8, int, uint, uintptr, float32, complex, channel, and function
// values cannot be encoded. Attempting to encode such values causes
// Marshal to return a [TypeError].
//
// DBus cannot represent cyclic or recursive types. Attempting to
// encode such values causes Marshal to return a [TypeError].
func Marshal(v any, ord fragments.ByteOrder) ([]byte, error) {
	return MarshalAppend(nil, v, ord)
}

// MarshalAppend appends the DBus wire encoding of v to bs and returns
// the extended slice. Alignment is computed relative to the start of
// bs, which must coincide with the start of a message.
func MarshalAppend(bs []byte, v any, ord fragments.ByteOrder) ([]byte, error) {
	if v == nil {
		return nil, typeErr(nil, "nil interface")
	}
	val := reflect.ValueOf(v)
	enc, err := encoderFor(val.Type())
	if err != nil {
		return nil, err
	}
	e := fragments.Encoder{
		Order:  ord,
		Mapper: typeEncoder,
		Out:    bs,
	}
	if err := enc(&e, val); err != nil {
		return nil, err
	}
	return e.Out, nil
}

// Marshaler is the interface implemented by types that can marshal
// themselves to the DBus wire format.
//
// SignatureDBus and AlignDBus are invoked on zero values of the
// Marshaler, and must return constant values.
//
// MarshalDBus is responsible for inserting padding appropriate to the
// values being encoded, and for producing output that matches the
// signature declared by SignatureDBus.
type Marshaler interface {
	SignatureDBus() Signature
	AlignDBus() int
	MarshalDBus(e *fragments.Encoder) error
}

var marshalerType = reflect.TypeFor[Marshaler]()

var encoders cache[reflect.Type, fragments.EncoderFunc]

// typeEncoder adapts encoderFor to the shape wanted by
// [fragments.Encoder.Mapper], deferring errors to encode time.
func typeEncoder(t reflect.Type) fragments.EncoderFunc {
	enc, err := encoderFor(t)
	if err != nil {
		return newErrEncoder(err)
	}
	return enc
}

func encoderFor(t reflect.Type) (ret fragments.EncoderFunc, err error) {
	if ret, err := encoders.Get(t); err == nil {
		return ret, nil
	} else if !errors.Is(err, errNotFound) {
		return nil, err
	}
	// Note, defer captures the type value in case it gets messed with
	// below.
	defer func(t reflect.Type) {
		if err != nil {
			encoders.SetErr(t, err)
		} else {
			encoders.Set(t, ret)
		}
	}(t)

	switch t.Kind() {
	case reflect.Int, reflect.Uint:
		return nil, typeErr(t, "int and uint aren't portable, use fixed width integers")
	case reflect.Int8:
		return nil, typeErr(t, "int8 has no corresponding DBus type, use uint8 instead")
	case reflect.Float32:
		return nil, typeErr(t, "float32 has no corresponding DBus type, use float64 instead")
	}

	// Deriving the signature first weeds out recursive types, map
	// keys that aren't basic types, and kinds with no DBus mapping,
	// before any encoder construction recurses into them.
	if _, err := signatureFor(t, nil); err != nil {
		return nil, err
	}

	if t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(marshalerType) {
		return newCondAddrMarshalEncoder(t), nil
	} else if t.Implements(marshalerType) {
		return newMarshalEncoder(), nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		return newPtrEncoder(t)
	case reflect.Bool:
		return newBoolEncoder(), nil
	case reflect.Int16, reflect.Int32, reflect.Int64:
		return newIntEncoder(t), nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return newUintEncoder(t), nil
	case reflect.Float64:
		return newFloatEncoder(), nil
	case reflect.String:
		return newStringEncoder(), nil
	case reflect.Slice, reflect.Array:
		return newSliceEncoder(t)
	case reflect.Struct:
		return newStructEncoder(t)
	case reflect.Map:
		return newMapEncoder(t)
	case reflect.Interface:
		return newVariantEncoder(t)
	}
	return nil, typeErr(t, "no dbus mapping for type")
}

func newErrEncoder(err error) fragments.EncoderFunc {
	return func(e *fragments.Encoder, v reflect.Value) error { return err }
}

func newCondAddrMarshalEncoder(t reflect.Type) fragments.EncoderFunc {
	ptr := newMarshalEncoder()
	if t.Implements(marshalerType) {
		val := newMarshalEncoder()
		return func(e *fragments.Encoder, v reflect.Value) error {
			if v.CanAddr() {
				return ptr(e, v.Addr())
			}
			return val(e, v)
		}
	}
	return func(e *fragments.Encoder, v reflect.Value) error {
		if !v.CanAddr() {
			return typeErr(t, "Marshaler is only implemented on pointer receiver, and cannot take the address of given value")
		}
		return ptr(e, v.Addr())
	}
}

func newMarshalEncoder() fragments.EncoderFunc {
	return func(e *fragments.Encoder, v reflect.Value) error {
		m := v.Interface().(Marshaler)
		e.Pad(m.AlignDBus())
		return m.MarshalDBus(e)
	}
}

func newPtrEncoder(t reflect.Type) (fragments.EncoderFunc, error) {
	elemEnc, err := encoderFor(t.Elem())
	if err != nil {
		return nil, err
	}
	fn := func(e *fragments.Encoder, v reflect.Value) error {
		if v.IsNil() {
			return elemEnc(e, reflect.Zero(t.Elem()))
		}
		return elemEnc(e, v.Elem())
	}
	return fn, nil
}

func newBoolEncoder() fragments.EncoderFunc {
	return func(e *fragments.Encoder, v reflect.Value) error {
		val := uint32(0)
		if v.Bool() {
			val = 1
		}
		e.Uint32(val)
		return nil
	}
}

func newIntEncoder(t reflect.Type) fragments.EncoderFunc {
	switch t.Size() {
	case 2:
		return func(e *fragments.Encoder, v reflect.Value) error {
			e.Uint16(uint16(v.Int()))
			return nil
		}
	case 4:
		return func(e *fragments.Encoder, v reflect.Value) error {
			e.Uint32(uint32(v.Int()))
			return nil
		}
	case 8:
		return func(e *fragments.Encoder, v reflect.Value) error {
			e.Uint64(uint64(v.Int()))
			return nil
		}
	default:
		panic("invalid newIntEncoder type")
	}
}

func newUintEncoder(t reflect.Type) fragments.EncoderFunc {
	switch t.Size() {
	case 1:
		return func(e *fragments.Encoder, v reflect.Value) error {
			e.Uint8(uint8(v.Uint()))
			return nil
		}
	case 2:
		return func(e *fragments.Encoder, v reflect.Value) error {
			e.Uint16(uint16(v.Uint()))
			return nil
		}
	case 4:
		return func(e *fragments.Encoder, v reflect.Value) error {
			e.Uint32(uint32(v.Uint()))
			return nil
		}
	case 8:
		return func(e *fragments.Encoder, v reflect.Value) error {
			e.Uint64(v.Uint())
			return nil
		}
	default:
		panic("invalid newUintEncoder type")
	}
}

func newFloatEncoder() fragments.EncoderFunc {
	return func(e *fragments.Encoder, v reflect.Value) error {
		e.Uint64(math.Float64bits(v.Float()))
		return nil
	}
}

func newStringEncoder() fragments.EncoderFunc {
	return func(e *fragments.Encoder, v reflect.Value) error {
		e.String(v.String())
		return nil
	}
}

func newSliceEncoder(t reflect.Type) (fragments.EncoderFunc, error) {
	if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
		// Fast path for []byte
		return func(e *fragments.Encoder, v reflect.Value) error {
			e.Bytes(v.Bytes())
			return nil
		}, nil
	}

	elemEnc, err := encoderFor(t.Elem())
	if err != nil {
		return nil, err
	}
	align := alignOf(t.Elem())

	fn := func(e *fragments.Encoder, v reflect.Value) error {
		return e.Array(align, func() error {
			for i := 0; i < v.Len(); i++ {
				if err := elemEnc(e, v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return fn, nil
}

func newStructEncoder(t reflect.Type) (fragments.EncoderFunc, error) {
	type fieldEncoder struct {
		idx []int
		enc fragments.EncoderFunc
	}
	var fields []fieldEncoder
	for _, f := range structFields(t) {
		fEnc, err := encoderFor(f.Type)
		if err != nil {
			return nil, err
		}
		fields = append(fields, fieldEncoder{f.Index, fEnc})
	}
	if len(fields) == 0 {
		return nil, typeErr(t, "no exported struct fields")
	}

	fn := func(e *fragments.Encoder, v reflect.Value) error {
		return e.Struct(func() error {
			for _, f := range fields {
				if err := f.enc(e, v.FieldByIndex(f.idx)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return fn, nil
}

func newMapEncoder(t reflect.Type) (fragments.EncoderFunc, error) {
	kt := t.Key()
	if !mapKeyKinds.Has(kt.Kind()) {
		return nil, typeErr(t, "invalid map key type %s", kt)
	}
	kEnc, err := encoderFor(kt)
	if err != nil {
		return nil, err
	}
	vEnc, err := encoderFor(t.Elem())
	if err != nil {
		return nil, err
	}
	kCmp := mapKeyCmp(kt)

	fn := func(e *fragments.Encoder, v reflect.Value) error {
		ks := v.MapKeys()
		slices.SortFunc(ks, kCmp)
		return e.Array(8, func() error {
			for _, mk := range ks {
				mv := v.MapIndex(mk)
				err := e.Struct(func() error {
					if err := kEnc(e, mk); err != nil {
						return err
					}
					return vEnc(e, mv)
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	return fn, nil
}

func newVariantEncoder(t reflect.Type) (fragments.EncoderFunc, error) {
	if t.NumMethod() != 0 {
		return nil, typeErr(t, "non-empty interfaces have no dbus mapping")
	}
	return func(e *fragments.Encoder, v reflect.Value) error {
		if v.IsNil() {
			return typeErr(t, "cannot encode nil interface value")
		}
		return Variant{v.Interface()}.MarshalDBus(e)
	}, nil
}
