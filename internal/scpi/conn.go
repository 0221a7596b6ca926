// Package scpi is a line-oriented SCPI client for instruments reachable over
// a raw socket (LXI port 5025). Commands and queries are newline terminated;
// binary replies use IEEE 488.2 definite-length blocks.
package scpi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the raw SCPI socket port used by LXI instruments.
const DefaultPort = "5025"

var (
	// ErrWriteFailed is returned when the socket accepts fewer bytes than sent.
	ErrWriteFailed = errors.New("failed to write to instrument")
	// ErrBadBlock is returned when a binary reply has no valid block header.
	ErrBadBlock = errors.New("malformed definite-length block")
)

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Conn is a SCPI session over any byte stream. When the stream supports
// deadlines (net.Conn does) every exchange is bounded by Timeout.
type Conn struct {
	rw      io.ReadWriter
	r       *bufio.Reader
	Timeout time.Duration
}

// NewConn wraps an established stream.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw, r: bufio.NewReader(rw)}
}

// Dial connects to an instrument at addr. A missing port defaults to 5025.
// timeout bounds both the dial and each later exchange.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultPort)
	}
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to instrument at %s: %w", addr, err)
	}
	c := NewConn(nc)
	c.Timeout = timeout
	return c, nil
}

// Close closes the underlying stream if it can be closed.
func (c *Conn) Close() error {
	if cl, ok := c.rw.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

func (c *Conn) arm() error {
	d, ok := c.rw.(deadliner)
	if !ok || c.Timeout <= 0 {
		return nil
	}
	return d.SetDeadline(time.Now().Add(c.Timeout))
}

// Command sends a command with optional space separated arguments. No reply
// is read.
func (c *Conn) Command(cmd string, args ...string) error {
	line := cmd
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if err := c.arm(); err != nil {
		return err
	}
	n, err := io.WriteString(c.rw, line)
	if err != nil {
		return fmt.Errorf("failed to send %q: %w", strings.TrimSpace(line), err)
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	return nil
}

// Query sends cmd and returns the reply line without its terminator.
func (c *Conn) Query(cmd string) (string, error) {
	if err := c.Command(cmd); err != nil {
		return "", err
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read reply to %q: %w", cmd, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// QueryBlock sends cmd and returns the payload of the definite-length block
// it answers with, consuming the newline that follows the block.
func (c *Conn) QueryBlock(cmd string) ([]byte, error) {
	if err := c.Command(cmd); err != nil {
		return nil, err
	}
	data, err := ReadBlock(c.r)
	if err != nil {
		return nil, fmt.Errorf("failed to read block reply to %q: %w", cmd, err)
	}
	return data, nil
}

// ReadBlock reads one IEEE 488.2 block "#<n><len><data>" from r. An
// indefinite block ("#0") is read up to the terminating newline.
func ReadBlock(r *bufio.Reader) ([]byte, error) {
	hash, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if hash != '#' {
		return nil, fmt.Errorf("%w: starts with %q", ErrBadBlock, hash)
	}
	nd, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if nd < '0' || nd > '9' {
		return nil, fmt.Errorf("%w: length digit %q", ErrBadBlock, nd)
	}

	if nd == '0' {
		data, err := r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		return data[:len(data)-1], nil
	}

	digits := make([]byte, int(nd-'0'))
	if _, err := io.ReadFull(r, digits); err != nil {
		return nil, err
	}
	length, err := strconv.Atoi(string(digits))
	if err != nil || length < 0 {
		return nil, fmt.Errorf("%w: length %q", ErrBadBlock, digits)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	// the block is followed by the message terminator
	term, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if term != '\n' {
		r.UnreadByte()
	}
	return data, nil
}
