package transport

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creachadair/mds/queue"
	"golang.org/x/sys/unix"
)

// A Transport is an authenticated raw connection to a bus, ready to
// carry marshaled messages.
type Transport interface {
	io.ReadWriteCloser

	// GetFiles returns n received files that were attached to
	// previously read bytes as ancillary data.
	GetFiles(n int) ([]*os.File, error)
	// WriteWithFiles is like Write, but additionally sends the given
	// files as ancillary data. The message being written refers to
	// them by position.
	WriteWithFiles(bs []byte, fds []*os.File) (int, error)
}

// DialUnix connects to the bus listening on the Unix domain socket at
// path, and completes the authentication preamble. The context
// deadline, if any, bounds connection setup only.
func DialUnix(ctx context.Context, path string) (Transport, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Net: "unix", Name: path})
	if err != nil {
		return nil, err
	}

	t := &unixTransport{
		conn: conn,
		fds:  queue.New[*os.File](),
	}
	t.buf = bufio.NewReader(funcReader(t.readWithAncillary))

	if err := setupWithDeadline(ctx, conn, t.auth); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// DialTCP connects to the bus listening at hostport ("host:port").
// TCP carries no peer credentials, so the preamble authenticates as
// anonymous; file descriptor passing is not available.
func DialTCP(ctx context.Context, hostport string) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, err
	}

	t := &tcpTransport{
		conn: conn,
		buf:  bufio.NewReader(conn),
	}
	if err := setupWithDeadline(ctx, conn, t.auth); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// setupWithDeadline runs auth with the connection deadline taken from
// ctx, then clears the deadline for normal use.
func setupWithDeadline(ctx context.Context, conn net.Conn, auth func() error) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	if err := auth(); err != nil {
		return err
	}
	return conn.SetDeadline(time.Time{})
}

// unixTransport is a Transport over a Unix domain socket, with
// SCM_RIGHTS file descriptor passing in both directions.
type unixTransport struct {
	conn *net.UnixConn
	oob  [512]byte
	buf  *bufio.Reader
	fds  *queue.Queue[*os.File]
}

func (t *unixTransport) Read(bs []byte) (int, error) {
	return t.buf.Read(bs)
}

func (t *unixTransport) Write(bs []byte) (int, error) {
	return t.conn.Write(bs)
}

func (t *unixTransport) Close() error {
	t.fds.Each(func(f *os.File) bool {
		f.Close()
		return true
	})
	t.fds.Clear()
	t.buf.Discard(t.buf.Buffered())
	return t.conn.Close()
}

func (t *unixTransport) WriteWithFiles(bs []byte, fs []*os.File) (int, error) {
	if len(fs) == 0 {
		return t.Write(bs)
	}

	fds := make([]int, 0, len(fs))
	for _, f := range fs {
		fds = append(fds, int(f.Fd()))
	}
	scm := unix.UnixRights(fds...)
	n, oobn, err := t.conn.WriteMsgUnix(bs, scm, nil)
	if err != nil {
		t.Close()
		return n, err
	}
	if oobn != len(scm) {
		t.Close()
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (t *unixTransport) GetFiles(n int) ([]*os.File, error) {
	ret := make([]*os.File, 0, n)
	for range n {
		f, ok := t.fds.Pop()
		if !ok {
			for _, f := range ret {
				f.Close()
			}
			return nil, errors.New("requested file not available")
		}
		ret = append(ret, f)
	}
	return ret, nil
}

// auth performs the authentication preamble on a Unix socket. The bus
// authenticates unix peers with the credentials it reads from the
// socket itself, so EXTERNAL auth is a fixed exchange: send the uid,
// negotiate fd passing, check for the two expected responses.
func (t *unixTransport) auth() error {
	uid := hex.EncodeToString([]byte(strconv.Itoa(os.Getuid())))
	if _, err := io.WriteString(t.conn, "\x00AUTH EXTERNAL "+uid+"\r\nNEGOTIATE_UNIX_FD\r\nBEGIN\r\n"); err != nil {
		return err
	}

	resp, err := t.buf.ReadString('\n')
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "OK ") {
		return fmt.Errorf("AUTH EXTERNAL failed, server said %q", strings.TrimSpace(resp))
	}

	resp, err = t.buf.ReadString('\n')
	if err != nil {
		return err
	}
	if resp != "AGREE_UNIX_FD\r\n" {
		return fmt.Errorf("NEGOTIATE_UNIX_FD failed, server said %q", strings.TrimSpace(resp))
	}

	return nil
}

// readWithAncillary reads from the socket and diverts any ancillary
// file descriptors into the received-files queue.
func (t *unixTransport) readWithAncillary(bs []byte) (int, error) {
	n, oobn, flags, _, err := t.conn.ReadMsgUnix(bs, t.oob[:])
	if flags&unix.MSG_CTRUNC != 0 {
		t.Close()
		return 0, errors.New("control message truncated")
	}
	if oobn > 0 {
		if oobErr := t.collectFDs(t.oob[:oobn]); oobErr != nil {
			t.Close()
			return 0, oobErr
		}
	}
	if err != nil {
		t.Close()
		return 0, err
	}

	return n, nil
}

func (t *unixTransport) collectFDs(oob []byte) error {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return err
	}
	// Accumulate errors and keep parsing. All provided descriptors
	// must be extracted so that they can all be closed on error;
	// bailing early would leave dangling fds in the process.
	var errs []error
	for _, scm := range scms {
		if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		fds, err := unix.ParseUnixRights(&scm)
		if err != nil {
			errs = append(errs, fmt.Errorf("parsing unix rights: %w", err))
			continue
		}
		for _, fd := range fds {
			f := os.NewFile(uintptr(fd), "")
			if f == nil {
				errs = append(errs, fmt.Errorf("invalid file descriptor %d received on bus socket", fd))
			} else {
				t.fds.Add(f)
			}
		}
	}
	return errors.Join(errs...)
}

// tcpTransport is a Transport over TCP. No credentials, no file
// descriptor passing.
type tcpTransport struct {
	conn net.Conn
	buf  *bufio.Reader
}

func (t *tcpTransport) Read(bs []byte) (int, error)  { return t.buf.Read(bs) }
func (t *tcpTransport) Write(bs []byte) (int, error) { return t.conn.Write(bs) }

func (t *tcpTransport) Close() error {
	t.buf.Discard(t.buf.Buffered())
	return t.conn.Close()
}

func (t *tcpTransport) WriteWithFiles(bs []byte, fds []*os.File) (int, error) {
	if len(fds) > 0 {
		return 0, errors.New("file descriptor passing requires a unix socket transport")
	}
	return t.Write(bs)
}

func (t *tcpTransport) GetFiles(n int) ([]*os.File, error) {
	if n == 0 {
		return nil, nil
	}
	return nil, errors.New("file descriptor passing requires a unix socket transport")
}

func (t *tcpTransport) auth() error {
	if _, err := io.WriteString(t.conn, "\x00AUTH ANONYMOUS\r\nBEGIN\r\n"); err != nil {
		return err
	}
	resp, err := t.buf.ReadString('\n')
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "OK ") {
		return fmt.Errorf("AUTH ANONYMOUS failed, server said %q", strings.TrimSpace(resp))
	}
	return nil
}

type funcReader func([]byte) (int, error)

func (f funcReader) Read(bs []byte) (int, error) {
	return f(bs)
}
