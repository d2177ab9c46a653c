package dbuswire

import (
	"reflect"

	"github.com/dbuswire/dbuswire/fragments"
)

// A Variant is a self-describing value: its signature is written to
// the wire alongside the value itself.
//
// The signature is always derived from the carried value, so the two
// cannot disagree.
type Variant struct {
	Value any
}

var variantType = reflect.TypeFor[Variant]()

func (v Variant) MarshalDBus(e *fragments.Encoder) error {
	sig, err := SignatureOf(v.Value)
	if err != nil {
		return err
	}
	if err := e.Value(sig); err != nil {
		return err
	}
	return e.Value(v.Value)
}

func (v Variant) AlignDBus() int { return 1 }

func (v Variant) SignatureDBus() Signature {
	return mkSignature(variantType, "v")
}
