package dbuswire

import (
	"cmp"
	"fmt"
	"reflect"
)

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// alignOf returns the DBus alignment boundary for values of type t.
func alignOf(t reflect.Type) int {
	t = derefType(t)
	if t.Implements(marshalerType) {
		return reflect.Zero(t).Interface().(Marshaler).AlignDBus()
	} else if ptr := reflect.PointerTo(t); ptr.Implements(marshalerType) {
		return reflect.Zero(ptr).Interface().(Marshaler).AlignDBus()
	}
	switch t.Kind() {
	case reflect.Uint8:
		return 1
	case reflect.Int16, reflect.Uint16:
		return 2
	case reflect.Bool, reflect.Int32, reflect.Uint32, reflect.Slice, reflect.Array, reflect.String, reflect.Map:
		// A map is an array of dict entries, and arrays align on
		// their uint32 length prefix. The entries themselves pad to 8
		// inside the array.
		return 4
	case reflect.Int64, reflect.Uint64, reflect.Float64, reflect.Struct:
		return 8
	case reflect.Interface:
		return 1 // variants carry their own signature, aligned to 1
	default:
		panic(fmt.Sprintf("missing alignment for %s", t))
	}
}

// mapKeyCmp returns a comparison function for the given map key type,
// used to emit dict entries in a deterministic order.
func mapKeyCmp(t reflect.Type) func(a, b reflect.Value) int {
	switch t.Kind() {
	case reflect.Bool:
		return func(a, b reflect.Value) int {
			if a.Bool() == b.Bool() {
				return 0
			}
			if !a.Bool() {
				return -1
			}
			return 1
		}
	case reflect.Int16, reflect.Int32, reflect.Int64:
		return func(a, b reflect.Value) int {
			return cmp.Compare(a.Int(), b.Int())
		}
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return func(a, b reflect.Value) int {
			return cmp.Compare(a.Uint(), b.Uint())
		}
	case reflect.Float64:
		return func(a, b reflect.Value) int {
			return cmp.Compare(a.Float(), b.Float())
		}
	case reflect.String:
		return func(a, b reflect.Value) int {
			return cmp.Compare(a.String(), b.String())
		}
	default:
		panic("invalid map key type")
	}
}

// structFields yields the exported, non-embedded fields of t in
// declaration order, flattening embedded structs the way Go
// visibility rules do.
func structFields(t reflect.Type) []reflect.StructField {
	var ret []reflect.StructField
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		ret = append(ret, f)
	}
	return ret
}
