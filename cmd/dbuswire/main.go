// Command dbuswire builds DBus messages from the command line, for
// inspecting their wire encoding or poking them at a live bus.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/kr/pretty"

	"github.com/dbuswire/dbuswire"
	"github.com/dbuswire/dbuswire/fragments"
	"github.com/dbuswire/dbuswire/transport"
)

var msgArgs struct {
	Type        string `flag:"type,default=signal,Message type: call | return | error | signal"`
	Path        string `flag:"path,Object path"`
	Interface   string `flag:"interface,Interface name"`
	Member      string `flag:"member,Method or signal name"`
	Dest        string `flag:"dest,Destination bus name"`
	ErrorName   string `flag:"error-name,Error name (for type=error)"`
	Serial      uint64 `flag:"serial,default=1,Message serial, must be non-zero"`
	ReplySerial uint64 `flag:"reply-serial,Serial of the message being replied to"`
	BigEndian   bool   `flag:"big-endian,Encode in big-endian byte order"`
	Verbose     bool   `flag:"v,Also print the message structure"`
}

func main() {
	root := &command.C{
		Name:     "dbuswire",
		Usage:    "command args...",
		SetFlags: command.Flags(flax.MustBind, &msgArgs),
		Commands: []*command.C{
			{
				Name:  "encode",
				Usage: "encode [body-string...]",
				Help:  "Encode a message and hex-dump its wire bytes. Positional arguments become string body arguments.",
				Run:   runEncode,
			},
			{
				Name:  "send",
				Usage: "send [body-string...]",
				Help:  "Encode a message and write it to the system bus socket.",
				Run:   runSend,
			},
			command.HelpCommand(nil),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

func buildMessage(args []string) (*dbuswire.Message, error) {
	var mt dbuswire.MessageType
	switch msgArgs.Type {
	case "call":
		mt = dbuswire.TypeMethodCall
	case "return":
		mt = dbuswire.TypeMethodReturn
	case "error":
		mt = dbuswire.TypeErrorReply
	case "signal":
		mt = dbuswire.TypeSignal
	default:
		return nil, fmt.Errorf("unknown message type %q", msgArgs.Type)
	}

	serial, err := dbuswire.NewSerial(uint32(msgArgs.Serial))
	if err != nil {
		return nil, err
	}

	m := &dbuswire.Message{
		Type:        mt,
		Serial:      serial,
		Path:        dbuswire.ObjectPath(msgArgs.Path),
		Interface:   msgArgs.Interface,
		Member:      msgArgs.Member,
		ErrorName:   msgArgs.ErrorName,
		ReplySerial: dbuswire.Serial(msgArgs.ReplySerial),
		Destination: msgArgs.Dest,
	}
	for _, a := range args {
		m.Body = append(m.Body, a)
	}
	return m, nil
}

func byteOrder() fragments.ByteOrder {
	if msgArgs.BigEndian {
		return fragments.BigEndian
	}
	return fragments.LittleEndian
}

func runEncode(env *command.Env) error {
	m, err := buildMessage(env.Args)
	if err != nil {
		return err
	}
	bs, err := m.Marshal(byteOrder())
	if err != nil {
		return err
	}
	if msgArgs.Verbose {
		pretty.Println(m)
	}
	fmt.Print(hex.Dump(bs))
	return nil
}

func runSend(env *command.Env) error {
	m, err := buildMessage(env.Args)
	if err != nil {
		return err
	}

	addr := transport.SystemBusAddr(os.Getenv)
	path, ok := strings.CutPrefix(addr, "unix:path=")
	if !ok {
		return fmt.Errorf("unsupported bus address %q, only unix:path= addresses are supported", addr)
	}
	if i := strings.IndexByte(path, ';'); i >= 0 {
		path = path[:i]
	}

	conn, err := transport.DialUnix(env.Context(), path)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", path, err)
	}
	defer conn.Close()

	n, err := m.EncodeTo(conn, byteOrder())
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes to %s\n", n, path)
	return nil
}
