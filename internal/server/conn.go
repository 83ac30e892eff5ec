package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/danmuck/voltshift/internal/auth"
	"github.com/danmuck/voltshift/internal/broker"
	"github.com/danmuck/voltshift/internal/msr"
	"github.com/danmuck/voltshift/internal/protocol"
	"github.com/danmuck/voltshift/internal/protocol/frame"
	"github.com/danmuck/voltshift/internal/protocol/schema"
	"github.com/danmuck/voltshift/internal/protocol/tlv"
	"github.com/danmuck/voltshift/internal/shm"
)

// connection is one client bound to one session.
type connection struct {
	srv    *Server
	conn   *net.UnixConn
	caller auth.Caller
	sess   *broker.Session
}

func (s *Server) handleConn(conn *net.UnixConn) {
	defer conn.Close()
	active := s.active.Add(1)
	defer s.active.Add(-1)

	caller, err := auth.PeerCaller(conn)
	if err != nil {
		s.logger.Warn().Err(err).Msg("server.Server.handleConn peer credentials")
		return
	}
	hello := frame.New(schema.MsgHello, 0, nil)

	if err := s.authz.Authorize(caller); err != nil {
		s.logger.Warn().Err(err).Msgf("server.Server.handleConn denied caller=%s", caller)
		s.writeError(conn, hello, err)
		return
	}

	sess, err := s.broker.CreateSession(caller)
	if err != nil {
		s.logger.Warn().Err(err).Msgf("server.Server.handleConn no session caller=%s", caller)
		s.writeError(conn, hello, err)
		return
	}
	sess.OnTerminate(func() { _ = conn.Close() })

	st := s.broker.Status()
	ack := protocol.Hello{
		SessionID: sess.ID().String(),
		Capacity:  uint32(st.Capacity),
		Active:    uint32(st.Sessions),
		ShmSize:   shm.Size,
	}
	if err := s.write(conn, hello.Reply(ack.Payload())); err != nil {
		_ = sess.ClientDied()
		return
	}
	s.logger.Info().
		Str("session", sess.ID().String()).
		Int64("active_clients", active).
		Msgf("server.Server.handleConn connected caller=%s", caller)

	c := &connection{srv: s, conn: conn, caller: caller, sess: sess}
	c.serve()
}

func (c *connection) serve() {
	for {
		req, err := frame.ReadFrame(c.conn, c.srv.cfg.Limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.srv.logger.Debug().Err(err).Msgf("server.connection.serve read session=%s", c.sess.ID())
			}
			_ = c.sess.ClientDied()
			return
		}
		if req.Header.IsResponse() {
			c.reply(req, nil, fmt.Errorf("%w: response flag on request", protocol.ErrBadRequest))
			continue
		}
		if err := schema.ValidateFrame(req); err != nil {
			c.reply(req, nil, err)
			continue
		}

		switch req.Header.MessageType {
		case schema.MsgCommand:
			payload, err := c.command(req.Payload)
			c.reply(req, payload, err)
		case schema.MsgMailbox:
			payload, err := c.mailbox(req.Payload)
			c.reply(req, payload, err)
		case schema.MsgSharedMemory:
			c.sharedMemory(req)
		case schema.MsgClose:
			_ = c.sess.ClientClose()
			c.reply(req, nil, nil)
			return
		}
	}
}

func (c *connection) command(payload []byte) ([]byte, error) {
	var in broker.Record
	if err := in.UnmarshalBinary(payload); err != nil {
		return nil, err
	}
	if in.Action == broker.ActionWriteMSR {
		if err := c.srv.authz.AuthorizeWrite(c.caller, in.MSR); err != nil {
			return nil, err
		}
	}
	var out broker.Record
	if err := c.sess.Dispatch(in.Action, &in, &out); err != nil {
		return nil, err
	}
	return out.MarshalBinary()
}

func (c *connection) mailbox(payload []byte) ([]byte, error) {
	req, err := protocol.ParseMailboxRequest(payload)
	if err != nil {
		return nil, err
	}
	if req.Op == schema.MailboxOpRead {
		v, err := c.sess.MailboxRead(req.Domain)
		if err != nil {
			return nil, err
		}
		return protocol.MailboxResponsePayload(v), nil
	}
	if err := c.srv.authz.AuthorizeWrite(c.caller, msr.OCMailbox); err != nil {
		return nil, err
	}
	if err := c.sess.MailboxWrite(req.Domain, req.Value); err != nil {
		return nil, err
	}
	c.srv.logger.Info().Msgf(
		"server.connection.mailbox write session=%s domain=%s value=%#x",
		c.sess.ID(),
		req.Domain,
		req.Value,
	)
	return protocol.MailboxResponsePayload(req.Value), nil
}

func (c *connection) sharedMemory(req frame.Frame) {
	snapshot, err := c.sess.SharedMemory()
	if err != nil {
		c.reply(req, nil, err)
		return
	}
	resp := req.Reply(snapshot)
	f, err := shm.Seal(snapshot)
	if err != nil {
		if !errors.Is(err, shm.ErrUnsupported) {
			c.srv.logger.Warn().Err(err).Msg("server.connection.sharedMemory seal failed, sending inline only")
		}
		_ = c.srv.write(c.conn, resp)
		return
	}
	defer f.Close()
	_ = c.srv.writeWithFile(c.conn, resp, f)
}

func (c *connection) reply(req frame.Frame, payload []byte, err error) {
	if err != nil {
		c.srv.logger.Debug().Err(err).Msgf(
			"server.connection.reply %s failed session=%s",
			schema.MessageName(req.Header.MessageType),
			c.sess.ID(),
		)
		c.srv.writeError(c.conn, req, err)
		return
	}
	_ = c.srv.write(c.conn, req.Reply(payload))
}

func (s *Server) writeError(conn *net.UnixConn, req frame.Frame, err error) {
	payload := tlv.EncodeFields(protocol.ErrorFields(err)...)
	_ = s.write(conn, req.ReplyError(payload))
}

func (s *Server) write(conn *net.UnixConn, f frame.Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := frame.WriteFrame(conn, f, s.cfg.Limits); err != nil {
		s.logger.Debug().Err(err).Msg("server.Server.write failed")
		return err
	}
	return nil
}
