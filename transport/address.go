// Package transport provides the byte sinks that DBus messages are
// written into: bus address strings, socket setup, and the minimal
// authentication preamble needed before a bus accepts messages.
//
// The marshaling core in the parent package knows nothing about any
// of this. It only requires an io.Writer.
package transport

import (
	"strconv"
	"strings"
)

const (
	// SystemBusEnv is the environment variable naming the system bus
	// address.
	SystemBusEnv = "DBUS_SYSTEM_BUS_ADDRESS"

	// DefaultSystemBusAddr is the well-known system bus address used
	// when [SystemBusEnv] is not set.
	DefaultSystemBusAddr = "unix:path=/var/run/dbus/system_bus_socket"
)

// SystemBusAddr resolves the system bus address. The environment is
// consulted through getenv rather than read implicitly, so callers
// (and tests) control the lookup.
func SystemBusAddr(getenv func(string) string) string {
	if addr := getenv(SystemBusEnv); addr != "" {
		return addr
	}
	return DefaultSystemBusAddr
}

// An Addr is a bus server address, rendered in the DBus address
// string format: a transport name, a colon, and semicolon-joined
// key=value pairs.
type Addr interface {
	String() string
}

// A UnixAddr describes a bus reachable over a Unix domain socket.
// Empty fields are omitted from the address string.
type UnixAddr struct {
	// Path is the filesystem path of the socket.
	Path string
	// TmpDir is a directory in which a server creates a socket with a
	// random name starting with "dbus-". Listenable addresses only.
	TmpDir string
	// Abstract is a unique name in the abstract socket namespace,
	// unconnected to the filesystem. Linux only.
	Abstract string
	// Runtime is set to "yes" in listenable addresses to request a
	// socket under XDG_RUNTIME_DIR.
	Runtime string
}

func (a UnixAddr) String() string {
	var pairs []string
	if a.Path != "" {
		pairs = append(pairs, "path="+a.Path)
	}
	if a.TmpDir != "" {
		pairs = append(pairs, "tmpdir="+a.TmpDir)
	}
	if a.Abstract != "" {
		pairs = append(pairs, "abstract="+a.Abstract)
	}
	if a.Runtime != "" {
		pairs = append(pairs, "runtime="+a.Runtime)
	}
	return "unix:" + strings.Join(pairs, ";")
}

// A TCPAddr describes a bus reachable over TCP. Zero-valued fields
// are omitted from the address string.
type TCPAddr struct {
	// Host is the DNS name or IP address of the server.
	Host string
	// Bind is the interface a server listens on: an address, a name
	// resolving to one, or "*" for all interfaces. Listenable
	// addresses only.
	Bind string
	// Port is the server's TCP port. Zero lets a server pick a free
	// port.
	Port uint16
	// Family restricts the socket family to "ipv4" or "ipv6".
	Family string
}

func (a TCPAddr) String() string {
	var pairs []string
	if a.Host != "" {
		pairs = append(pairs, "host="+a.Host)
	}
	if a.Bind != "" {
		pairs = append(pairs, "bind="+a.Bind)
	}
	if a.Port != 0 {
		pairs = append(pairs, "port="+strconv.Itoa(int(a.Port)))
	}
	if a.Family != "" {
		pairs = append(pairs, "family="+a.Family)
	}
	return "tcp:" + strings.Join(pairs, ";")
}
