package dbuswire

import (
	"testing"

	"github.com/dbuswire/dbuswire/fragments"
	"github.com/google/go-cmp/cmp"
)

func TestMarshal(t *testing.T) {
	type testCase struct {
		name    string
		in      any
		raw     []byte
		wantErr bool
	}
	ok := func(name string, in any, raw ...byte) testCase {
		return testCase{name, in, raw, false}
	}
	fail := func(name string, in any) testCase {
		return testCase{name, in, nil, true}
	}

	tests := []testCase{
		ok("true", true,
			0, 0, 0, 1),
		ok("false", false,
			0, 0, 0, 0),

		ok("byte", byte(42),
			42),
		ok("i16", int16(0x1234),
			0x12, 0x34),
		ok("u16", uint16(0x1234),
			0x12, 0x34),
		ok("i32", int32(0x12345678),
			0x12, 0x34, 0x56, 0x78),
		ok("u32", uint32(0x12345678),
			0x12, 0x34, 0x56, 0x78),
		ok("i64", int64(0x1abbccdd12345678),
			0x1a, 0xbb, 0xcc, 0xdd,
			0x12, 0x34, 0x56, 0x78),
		ok("u64", uint64(0x1abbccdd12345678),
			0x1a, 0xbb, 0xcc, 0xdd,
			0x12, 0x34, 0x56, 0x78),

		ok("f64", float64(3402823700),
			0x41, 0xE9, 0x5A, 0x5F,
			0x02, 0x80, 0x00, 0x00),

		ok("string", "foobar",
			// Length
			0, 0, 0, 6,
			// Value
			'f', 'o', 'o', 'b', 'a', 'r',
			// Terminator
			0),

		ok("bytes", []byte("foobar"),
			// Length
			0, 0, 0, 6,
			// Value
			'f', 'o', 'o', 'b', 'a', 'r'),

		ok("[]string", []string{"fo", "obar"},
			// array length
			0, 0, 0, 17,
			// "fo"
			0, 0, 0, 2, 'f', 'o', 0,
			// pad
			0,
			// "obar"
			0, 0, 0, 4, 'o', 'b', 'a', 'r', 0),

		ok("empty []string", []string{},
			0, 0, 0, 0),

		ok("[]uint64", []uint64{1},
			// array length, excludes element alignment padding
			0, 0, 0, 8,
			// pad to element boundary
			0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 1),

		ok("object path", ObjectPath("/foo"),
			0, 0, 0, 4,
			'/', 'f', 'o', 'o',
			0),

		ok("signature", mustParseSignature("a{sv}"),
			5, 'a', '{', 's', 'v', '}', 0),

		ok("unix fd index", UnixFD(3),
			0, 0, 0, 3),

		ok("variant", Variant{uint32(66)},
			// signature: uint32
			1, 'u', 0,
			// pad
			0,
			// value
			0, 0, 0, 66),

		ok("map", map[uint8]string{1: "a", 2: "b"},
			// dict length in bytes
			0, 0, 0, 26,
			// pad to dict entry
			0, 0, 0, 0,
			// key 1
			1,
			// pad
			0, 0, 0,
			// "a"
			0, 0, 0, 1, 'a', 0,
			// pad to dict entry
			0, 0, 0, 0, 0, 0,
			// key 2
			2,
			// pad
			0, 0, 0,
			// "b"
			0, 0, 0, 1, 'b', 0),

		ok("struct", Simple{42, true},
			// .A
			0, 42,
			// pad
			0, 0,
			// .B
			0, 0, 0, 1),

		ok("struct nested", Nested{66, Simple{42, true}},
			// .A
			66,
			// pad to inner struct
			0, 0, 0, 0, 0, 0, 0,
			// .B.A
			0, 42,
			// pad
			0, 0,
			// .B.B
			0, 0, 0, 1),

		ok("struct any", struct {
			A uint16
			B any
		}{42, uint32(66)},
			// .A
			0, 42,
			// .B signature: uint32
			1, 'u', 0,
			// pad
			0, 0, 0,
			// value
			0, 0, 0, 66),

		ok("pointer", ptr(uint16(0x1234)),
			0x12, 0x34),
		ok("nil pointer encodes zero value", (*uint32)(nil),
			0, 0, 0, 0),

		fail("int", int(1)),
		fail("int8", int8(1)),
		fail("float32", float32(1)),
		fail("map with struct key", map[Simple]bool{}),
		fail("recursive type", Tree{}),
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Marshal(tc.in, fragments.BigEndian)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Marshal(%T) succeeded, want error", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Marshal(%T): %v", tc.in, err)
			}
			if diff := cmp.Diff(got, tc.raw); diff != "" {
				t.Errorf("Marshal(%T) wrong encoding (-got+want):\n%s\n  got: % x\n want: % x", tc.in, diff, got, tc.raw)
			}
		})
	}
}

func TestMarshalLittleEndian(t *testing.T) {
	got, err := Marshal(uint32(0x12345678), fragments.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x78, 0x56, 0x34, 0x12}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("wrong encoding (-got+want):\n%s", diff)
	}
}

// A dictionary encodes each key exactly once, in sorted key order.
func TestMarshalMapDeterministic(t *testing.T) {
	in := map[string]uint32{"b": 2, "a": 1, "c": 3}
	first, err := Marshal(in, fragments.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	for range 10 {
		again, err := Marshal(in, fragments.LittleEndian)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(again, first); diff != "" {
			t.Fatalf("map encoding not deterministic (-got+want):\n%s", diff)
		}
	}
}
