package archive

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CommitToken is the literal acknowledgement the archive host sends once
// it has appended all transferred artifacts without error.
const CommitToken = "COMMIT"

// Confirmation is the outcome of the rendezvous with the archive host.
type Confirmation uint8

const (
	// Committed means the archive acknowledged with the commit token.
	Committed Confirmation = iota
	// Rejected means the archive answered with anything else.
	Rejected
	// TimedOut means no message arrived within the bound.
	TimedOut
)

func (c Confirmation) String() string {
	switch c {
	case Committed:
		return "committed"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// ConfirmResult carries the confirmation outcome and, for Rejected, the
// archive's message text.
type ConfirmResult struct {
	Outcome Confirmation
	Message string
}

// Awaiter is the rendezvous the coordinator blocks on after a push.
type Awaiter interface {
	Await(ctx context.Context, timeout time.Duration) ConfirmResult
}

// Listener accepts at most one inbound confirmation message per batch on a
// fixed source-side address.
type Listener struct {
	ln  net.Listener
	log *zap.Logger
}

// Listen binds the confirmation port. Binding happens before the push so
// the archive host can connect the moment it finishes appending.
func Listen(addr string, log *zap.Logger) (*Listener, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, log: log}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Await blocks for one inbound text message, at most until timeout or
// context cancellation. A stuck or dead archive host can never hang the
// batch beyond the bound.
func (l *Listener) Await(ctx context.Context, timeout time.Duration) ConfirmResult {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if tcp, ok := l.ln.(*net.TCPListener); ok {
		tcp.SetDeadline(deadline)
	}

	// Unblock Accept when the context dies first.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.ln.Close()
		case <-stop:
		}
	}()

	conn, err := l.ln.Accept()
	if err != nil {
		l.log.Warn("no confirmation received", zap.Duration("timeout", timeout))
		return ConfirmResult{Outcome: TimedOut}
	}
	defer conn.Close()

	conn.SetReadDeadline(deadline)
	msg, err := readMessage(conn)
	if err != nil || msg == "" {
		return ConfirmResult{Outcome: TimedOut}
	}

	if msg == CommitToken {
		return ConfirmResult{Outcome: Committed}
	}
	return ConfirmResult{Outcome: Rejected, Message: msg}
}

// Close releases the port. Later connection attempts are refused; the
// batch accepts exactly one confirmation.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// readMessage reads one short line of text, tolerating peers that close
// without a trailing newline.
func readMessage(conn net.Conn) (string, error) {
	buf := make([]byte, 4096)
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if total > 0 {
				break
			}
			return "", err
		}
		if idx := strings.IndexByte(string(buf[:total]), '\n'); idx >= 0 {
			break
		}
	}

	msg := string(buf[:total])
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	return strings.TrimSpace(msg), nil
}
