// Package client is the unprivileged side of the broker socket.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/danmuck/voltshift/internal/broker"
	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/danmuck/voltshift/internal/protocol"
	"github.com/danmuck/voltshift/internal/protocol/frame"
	"github.com/danmuck/voltshift/internal/protocol/schema"
	"github.com/danmuck/voltshift/internal/shm"
)

const DefaultTimeout = 5 * time.Second

var (
	ErrClosed          = errors.New("client: connection closed")
	ErrUnexpectedFrame = errors.New("client: unexpected response frame")
	ErrSessionRejected = errors.New("client: session rejected")
)

// Options tunes a client connection.
type Options struct {
	Timeout time.Duration
	Limits  frame.Limits
}

// Client holds one broker session. Requests are serialized.
type Client struct {
	mu     sync.Mutex
	conn   *net.UnixConn
	hello  protocol.Hello
	nextID uint64
	opts   Options
	closed bool
}

// Dial connects to the broker socket and waits for the session handshake.
func Dial(ctx context.Context, path string, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Limits.MaxPayloadBytes == 0 {
		opts.Limits = frame.DefaultLimits()
	}
	var d net.Dialer
	raw, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", path, err)
	}
	conn := raw.(*net.UnixConn)

	_ = conn.SetReadDeadline(time.Now().Add(opts.Timeout))
	f, err := frame.ReadFrame(conn, opts.Limits)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: handshake: %w", err)
	}
	if f.Header.MessageType != schema.MsgHello || !f.Header.IsResponse() {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake type=%d", ErrUnexpectedFrame, f.Header.MessageType)
	}
	if f.Header.IsError() {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrSessionRejected, protocol.ParseError(f.Payload))
	}
	hello, err := protocol.ParseHello(f.Payload)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: handshake: %w", err)
	}
	return &Client{conn: conn, hello: hello, opts: opts}, nil
}

// Session describes the broker session this client holds.
func (c *Client) Session() protocol.Hello {
	return c.hello
}

// Command sends one raw command record and returns the broker's echo.
func (c *Client) Command(in broker.Record) (broker.Record, error) {
	payload, err := in.MarshalBinary()
	if err != nil {
		return broker.Record{}, err
	}
	resp, err := c.roundTrip(schema.MsgCommand, payload)
	if err != nil {
		return broker.Record{}, err
	}
	var out broker.Record
	if err := out.UnmarshalBinary(resp.Payload); err != nil {
		return broker.Record{}, err
	}
	return out, nil
}

func (c *Client) ReadMSR(index uint32) (uint64, error) {
	out, err := c.Command(broker.Record{Action: broker.ActionReadMSR, MSR: index})
	if err != nil {
		return 0, err
	}
	return out.Param, nil
}

func (c *Client) WriteMSR(index uint32, value uint64) error {
	_, err := c.Command(broker.Record{Action: broker.ActionWriteMSR, MSR: index, Param: value})
	return err
}

func (c *Client) MailboxRead(domain mailbox.Domain) (uint32, error) {
	req := protocol.MailboxRequest{Op: schema.MailboxOpRead, Domain: domain}
	resp, err := c.roundTrip(schema.MsgMailbox, req.Payload())
	if err != nil {
		return 0, err
	}
	return protocol.ParseMailboxResponse(resp.Payload)
}

func (c *Client) MailboxWrite(domain mailbox.Domain, value uint32) error {
	req := protocol.MailboxRequest{Op: schema.MailboxOpWrite, Domain: domain, Value: value}
	resp, err := c.roundTrip(schema.MsgMailbox, req.Payload())
	if err != nil {
		return err
	}
	_, err = protocol.ParseMailboxResponse(resp.Payload)
	return err
}

// SharedMemory fetches a report snapshot. When the broker passes a sealed
// descriptor the region is a read-only mapping; otherwise it is a heap copy.
func (c *Client) SharedMemory() (*shm.Region, error) {
	var file *os.File
	resp, err := c.exchange(schema.MsgSharedMemory, nil, func() (frame.Frame, error) {
		f, fd, err := readFrameWithFile(c.conn, c.opts.Limits)
		file = fd
		return f, err
	})
	if file != nil {
		defer file.Close()
	}
	if err != nil {
		return nil, err
	}
	if file != nil {
		return shm.Map(file)
	}
	return shm.FromBytes(resp.Payload)
}

// Close ends the session cleanly and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	_, reqErr := c.roundTrip(schema.MsgClose, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	closeErr := c.conn.Close()
	if reqErr != nil {
		return reqErr
	}
	return closeErr
}

func (c *Client) roundTrip(msgType uint32, payload []byte) (frame.Frame, error) {
	return c.exchange(msgType, payload, func() (frame.Frame, error) {
		return frame.ReadFrame(c.conn, c.opts.Limits)
	})
}

func (c *Client) exchange(msgType uint32, payload []byte, read func() (frame.Frame, error)) (frame.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return frame.Frame{}, ErrClosed
	}

	c.nextID++
	req := frame.New(msgType, c.nextID, payload)
	deadline := time.Now().Add(c.opts.Timeout)
	_ = c.conn.SetDeadline(deadline)
	if err := frame.WriteFrame(c.conn, req, c.opts.Limits); err != nil {
		return frame.Frame{}, fmt.Errorf("client: send %s: %w", schema.MessageName(msgType), err)
	}
	resp, err := read()
	if err != nil {
		return frame.Frame{}, fmt.Errorf("client: receive %s: %w", schema.MessageName(msgType), err)
	}
	if !resp.Header.IsResponse() || resp.Header.MessageID != req.Header.MessageID || resp.Header.MessageType != msgType {
		return frame.Frame{}, fmt.Errorf(
			"%w: want %s id=%d got type=%d id=%d",
			ErrUnexpectedFrame,
			schema.MessageName(msgType),
			req.Header.MessageID,
			resp.Header.MessageType,
			resp.Header.MessageID,
		)
	}
	if resp.Header.IsError() {
		return frame.Frame{}, protocol.ParseError(resp.Payload)
	}
	return resp, nil
}
