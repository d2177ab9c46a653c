package dbuswire

import (
	"reflect"

	"github.com/dbuswire/dbuswire/fragments"
)

// A UnixFD is an index into the array of file descriptors sent
// alongside a message as socket ancillary data. It is a positional
// reference only: it does not own the descriptor, and the transport
// is responsible for actually attaching descriptors to the outgoing
// byte stream.
type UnixFD uint32

func (fd UnixFD) MarshalDBus(e *fragments.Encoder) error {
	e.Uint32(uint32(fd))
	return nil
}

func (fd UnixFD) AlignDBus() int { return 4 }

func (fd UnixFD) SignatureDBus() Signature {
	return mkSignature(reflect.TypeFor[UnixFD](), "h")
}
