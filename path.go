package dbuswire

import (
	"reflect"

	"github.com/dbuswire/dbuswire/fragments"
)

// An ObjectPath is a hierarchical name identifying one object
// instance exposed by a bus peer, e.g. "/org/freedesktop/DBus".
type ObjectPath string

func (p ObjectPath) MarshalDBus(e *fragments.Encoder) error {
	e.String(string(p))
	return nil
}

func (p ObjectPath) AlignDBus() int { return 4 }

func (p ObjectPath) SignatureDBus() Signature {
	return mkSignature(reflect.TypeFor[ObjectPath](), "o")
}
