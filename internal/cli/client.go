package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/cruciblehq/cruxrel/internal/paths"
	"github.com/cruciblehq/cruxrel/internal/protocol"
)

var ErrDaemon = errors.New("daemon error")

// Returns the daemon socket path from flags or the default.
func socketPath() string {
	if RootCmd.Socket != "" {
		return RootCmd.Socket
	}
	return paths.Socket()
}

// Sends one command to the daemon and decodes its final answer into out.
//
// Progress envelopes received before the answer are passed to onProgress
// when it is not nil. Closing ctx closes the connection, which cancels the
// command on the daemon side.
func call[T any](ctx context.Context, socket string, cmd protocol.Command, payload any, out *T, onProgress func(protocol.ProgressResult)) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return fmt.Errorf("%w: is the daemon running? %w", ErrDaemon, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	data, err := protocol.Encode(cmd, payload)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %w", ErrDaemon, err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		env, body, err := protocol.Decode(scanner.Bytes())
		if err != nil {
			return err
		}

		switch env.Command {
		case protocol.CmdProgress:
			if onProgress == nil {
				continue
			}
			p, err := protocol.DecodePayload[protocol.ProgressResult](body)
			if err != nil {
				return err
			}
			onProgress(*p)

		case protocol.CmdOK:
			v, err := protocol.DecodePayload[T](body)
			if err != nil {
				return err
			}
			*out = *v
			return nil

		case protocol.CmdError:
			e, err := protocol.DecodePayload[protocol.ErrorResult](body)
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: %s", ErrDaemon, e.Message)

		default:
			return fmt.Errorf("%w: unexpected %q envelope", ErrDaemon, env.Command)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrDaemon, err)
	}
	return fmt.Errorf("%w: connection closed without an answer", ErrDaemon)
}
