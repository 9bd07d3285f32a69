package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/marmos91/dittomds/internal/logger"
	"github.com/marmos91/dittomds/pkg/handler"
	"github.com/marmos91/dittomds/pkg/wire"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// conn serves one client connection.
//
// The reader goroutine (serve) decodes calls and queues one pending slot
// per call; the writer goroutine drains the slots in order, so replies
// leave in request order even though handlers run concurrently on the
// worker pool.
type conn struct {
	server *Server
	id     string
	conn   net.Conn
	addr   string
	host   string

	// set by the connect call; read only by the reader goroutine and the
	// tasks it submits afterwards
	xconn  *xattr.Connection
	caller xattr.Caller

	pending chan chan []byte
}

func newConn(s *Server, id string, c net.Conn) *conn {
	addr := c.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return &conn{
		server:  s,
		id:      id,
		conn:    c,
		addr:    addr,
		host:    host,
		pending: make(chan chan []byte, s.config.MaxInFlight),
	}
}

// serve reads calls until the client disconnects, the connection idles
// out or the server shuts down.
func (c *conn) serve(ctx context.Context) {
	writerDone := make(chan struct{})
	go c.writeLoop(writerDone)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection handler from %s: %v", c.addr, r)
		}
		close(c.pending)
		<-writerDone
		_ = c.conn.Close()
		c.server.handler.ReleaseConnection(c.xconn)
	}()

	// Unblock the reader on shutdown.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if ctx.Err() != nil {
			logger.Debug("Connection from %s closed due to server shutdown", c.addr)
			return
		}

		if c.server.config.IdleTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.server.config.IdleTimeout)); err != nil {
				logger.Warn("Failed to set deadline for %s: %v", c.addr, err)
			}
		}

		body, err := wire.ReadFrame(c.conn, c.server.config.MaxFrameSize)
		if err != nil {
			c.logReadError(ctx, err)
			return
		}

		if err := c.handleCall(ctx, body); err != nil {
			logger.Debug("Closing connection from %s: %v", c.addr, err)
			return
		}
	}
}

func (c *conn) logReadError(ctx context.Context, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("Connection from %s closed by client", c.addr)
	case ctx.Err() != nil:
		logger.Debug("Connection from %s closed due to server shutdown", c.addr)
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("Connection from %s timed out: %v", c.addr, err)
	case errors.Is(err, wire.ErrFrameTooLarge):
		logger.Warn("Closing connection from %s: %v", c.addr, err)
		c.server.metrics.RecordRejected("frame_too_large")
	default:
		logger.Debug("Error reading request from %s: %v", c.addr, err)
	}
}

// handleCall decodes the call header and either answers immediately
// (NULL, CONNECT, transport errors) or queues the call on the worker
// pool. A returned error closes the connection.
func (c *conn) handleCall(ctx context.Context, body []byte) error {
	hdr, args, err := wire.DecodeCall(body)
	if err != nil {
		c.server.metrics.RecordRejected("decode")
		return err
	}

	logger.Debug("Call: conn=%s xid=0x%x proc=%s", c.id, hdr.XID, hdr.Procedure)

	switch hdr.Procedure {
	case wire.ProcNull:
		return c.reply(hdr, wire.Accepted, nil)
	case wire.ProcConnect:
		return c.connect(hdr, args)
	case wire.ProcGetxattr, wire.ProcSetxattr, wire.ProcLock:
	default:
		logger.Debug("Unknown procedure %d from %s", hdr.Procedure, c.addr)
		return c.reply(hdr, wire.ProcUnavail, nil)
	}

	if c.xconn == nil {
		c.server.metrics.RecordRejected("handshake")
		return c.reply(hdr, wire.NotConnected, nil)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.server.config.RequestTimeout)

	if err := c.server.limiter.Wait(reqCtx, c.host); err != nil {
		cancel()
		logger.Debug("Rate limited: conn=%s xid=0x%x client=%s: %v", c.id, hdr.XID, c.addr, err)
		c.server.metrics.RecordRejected("rate_limited")
		return c.reply(hdr, wire.SystemErr, nil)
	}

	slot := make(chan []byte, 1)
	select {
	case c.pending <- slot:
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	rctx := &handler.RequestContext{Context: reqCtx, Conn: c.xconn, Caller: c.caller}
	c.server.pool.Submit(func() {
		defer cancel()
		slot <- c.dispatch(rctx, hdr, args)
	})
	c.server.metrics.SetQueueDepth(c.server.pool.WaitingQueueSize())

	return nil
}

// dispatch runs a queued call and returns the encoded reply, or nil when
// no reply can be built.
func (c *conn) dispatch(rctx *handler.RequestContext, hdr wire.CallHeader, args []byte) []byte {
	var (
		res  any
		stat = wire.Accepted
	)

	switch hdr.Procedure {
	case wire.ProcGetxattr:
		var a wire.GetxattrArgs
		if err := wire.Decode(args, &a); err != nil {
			logger.Debug("GETXATTR: bad arguments from %s: %v", c.addr, err)
			stat = wire.GarbageArgs
			break
		}
		reply, _ := c.server.handler.GetXattr(rctx, a.Request())
		res = wire.NewGetxattrRes(reply)

	case wire.ProcSetxattr:
		var a wire.SetxattrArgs
		if err := wire.Decode(args, &a); err != nil {
			logger.Debug("SETXATTR: bad arguments from %s: %v", c.addr, err)
			stat = wire.GarbageArgs
			break
		}
		reply, _ := c.server.handler.SetXattr(rctx, a.Request())
		res = wire.NewSetxattrRes(reply)

	case wire.ProcLock:
		var a wire.LockArgs
		if err := wire.Decode(args, &a); err != nil {
			logger.Debug("LOCK: bad arguments from %s: %v", c.addr, err)
			stat = wire.GarbageArgs
			break
		}
		reply, _ := c.server.handler.Lock(rctx, a.Request())
		res = wire.NewLockRes(reply)
	}

	if stat == wire.GarbageArgs {
		c.server.metrics.RecordRejected("decode")
	}

	body, err := wire.EncodeReply(hdr.XID, hdr.Procedure, stat, res)
	if err != nil {
		logger.Error("Failed to encode %s reply for %s: %v", hdr.Procedure, c.addr, err)
		return nil
	}
	return body
}

// connect handles the session handshake. A repeated connect replaces the
// session's credentials and features.
func (c *conn) connect(hdr wire.CallHeader, args []byte) error {
	var a wire.ConnectArgs
	if err := wire.Decode(args, &a); err != nil {
		c.server.metrics.RecordRejected("handshake")
		return c.reply(hdr, wire.GarbageArgs, nil)
	}

	res := &wire.ConnectRes{ConnID: c.id}
	if a.Version != wire.ProtocolVersion {
		logger.Warn("CONNECT: client %s speaks protocol version %d, want %d", c.addr, a.Version, wire.ProtocolVersion)
		res.Status = uint32(xattr.EINVAL)
		c.server.metrics.RecordRejected("handshake")
		return c.reply(hdr, wire.Accepted, res)
	}

	granted := xattr.Features(a.Features) & c.server.config.Features
	c.xconn = &xattr.Connection{ID: c.id, Addr: c.addr, Features: granted}
	c.caller = a.Caller()

	res.Features = uint64(granted)
	res.MaxEASize = uint32(c.server.config.MaxEASize)

	logger.Info("CONNECT: conn=%s client=%s uid=%d gid=%d features=%s",
		c.id, c.addr, c.caller.UID, c.caller.GID, granted)

	return c.reply(hdr, wire.Accepted, res)
}

// reply queues an already-built reply behind any pending ones.
func (c *conn) reply(hdr wire.CallHeader, stat wire.AcceptStat, res any) error {
	body, err := wire.EncodeReply(hdr.XID, hdr.Procedure, stat, res)
	if err != nil {
		return err
	}
	slot := make(chan []byte, 1)
	slot <- body
	c.pending <- slot
	return nil
}

// writeLoop writes replies in call order until pending is closed. After a
// write failure it keeps draining so queued tasks never block.
func (c *conn) writeLoop(done chan<- struct{}) {
	defer close(done)

	broken := false
	for slot := range c.pending {
		body := <-slot
		if broken || body == nil {
			continue
		}

		if c.server.config.WriteTimeout > 0 {
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
				logger.Debug("Failed to set write deadline for %s: %v", c.addr, err)
			}
		}
		if err := wire.WriteFrame(c.conn, body); err != nil {
			logger.Debug("Failed to write reply to %s: %v", c.addr, err)
			broken = true
			// Wake the reader so the connection closes.
			_ = c.conn.Close()
		}
	}
}
