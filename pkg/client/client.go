// Package client is a minimal synchronous client for the DittoMDS wire
// protocol.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/dittomds/pkg/fid"
	"github.com/marmos91/dittomds/pkg/handler"
	"github.com/marmos91/dittomds/pkg/lock"
	"github.com/marmos91/dittomds/pkg/wire"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// ErrRejected is wrapped by errors for calls the server did not accept
// (rate limited, unknown procedure, undecodable arguments).
var ErrRejected = errors.New("call rejected")

// Options configures a Client.
type Options struct {
	// Features are requested at connect time; the server grants a subset.
	Features xattr.Features

	// Caller is the identity every request runs as.
	Caller xattr.Caller

	// MaxFrameSize bounds a reply record.
	// Default: wire.DefaultMaxFrameSize
	MaxFrameSize uint32
}

// Client is one connection to a server. Calls are serialized: the client
// writes a call and waits for its reply before sending the next one.
type Client struct {
	conn net.Conn
	opts Options

	mu  sync.Mutex
	xid uint32

	connID    string
	features  xattr.Features
	maxEASize int
}

// Dial connects to addr and performs the connect handshake.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	if opts.MaxFrameSize == 0 {
		opts.MaxFrameSize = wire.DefaultMaxFrameSize
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &Client{conn: conn, opts: opts}

	var res wire.ConnectRes
	if err := c.call(ctx, wire.ProcConnect, wire.NewConnectArgs(opts.Features, opts.Caller), &res); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := xattr.FromErrno(xattr.Errno(res.Status), ""); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	c.connID = res.ConnID
	c.features = xattr.Features(res.Features)
	c.maxEASize = int(res.MaxEASize)
	return c, nil
}

// ConnID returns the id the server assigned to this connection.
func (c *Client) ConnID() string { return c.connID }

// Features returns the features the server granted.
func (c *Client) Features() xattr.Features { return c.features }

// MaxEASize returns the largest value the server accepts.
func (c *Client) MaxEASize() int { return c.maxEASize }

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends one call and decodes its results into res (which may be nil
// for procedures without results).
func (c *Client) call(ctx context.Context, proc wire.Procedure, args any, res any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	// A zero deadline clears the previous call's.
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	// Abort a blocked read or write when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	c.xid++
	xid := c.xid

	body, err := wire.EncodeCall(xid, proc, args)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(c.conn, body); err != nil {
		return c.ioError(ctx, err)
	}

	reply, err := wire.ReadFrame(c.conn, c.opts.MaxFrameSize)
	if err != nil {
		return c.ioError(ctx, err)
	}

	hdr, results, err := wire.DecodeReply(reply)
	if err != nil {
		return err
	}
	if hdr.XID != xid {
		return fmt.Errorf("reply xid 0x%x does not match call 0x%x", hdr.XID, xid)
	}
	if hdr.Stat != wire.Accepted {
		return fmt.Errorf("%s: %w: %s", proc, ErrRejected, hdr.Stat)
	}
	if res == nil {
		return nil
	}
	return wire.Decode(results, res)
}

func (c *Client) ioError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Null pings the server.
func (c *Client) Null(ctx context.Context) error {
	return c.call(ctx, wire.ProcNull, nil, nil)
}

// Getxattr sends a raw Get, List or GetAll request.
func (c *Client) Getxattr(ctx context.Context, req *handler.GetRequest) (*handler.GetReply, error) {
	var res wire.GetxattrRes
	if err := c.call(ctx, wire.ProcGetxattr, wire.NewGetxattrArgs(req), &res); err != nil {
		return nil, err
	}
	return res.Reply(), nil
}

// Setxattr sends a raw Set or Remove request.
func (c *Client) Setxattr(ctx context.Context, req *handler.SetRequest) (*handler.SetReply, error) {
	var res wire.SetxattrRes
	if err := c.call(ctx, wire.ProcSetxattr, wire.NewSetxattrArgs(req), &res); err != nil {
		return nil, err
	}
	return res.Reply(), nil
}

// Lock asks the server to hold scope on f for this connection and returns
// the cookie that cancels it. The lock lasts until a Set or Remove carries
// the cookie in CancelCookies or the connection closes.
func (c *Client) Lock(ctx context.Context, f fid.FID, scope lock.Scope) (lock.Cookie, error) {
	var res wire.LockRes
	if err := c.call(ctx, wire.ProcLock, wire.NewLockArgs(&handler.LockRequest{FID: f, Scope: scope}), &res); err != nil {
		return 0, err
	}
	reply := res.Reply()
	if err := xattr.FromErrno(reply.Status, ""); err != nil {
		return 0, err
	}
	return reply.Cookie, nil
}

// Size returns the size of the named value without transferring it.
func (c *Client) Size(ctx context.Context, f fid.FID, name string) (int, error) {
	reply, err := c.Getxattr(ctx, &handler.GetRequest{FID: f, Valid: handler.ValidXattr, Name: name})
	if err != nil {
		return 0, err
	}
	if err := xattr.FromErrno(reply.Status, name); err != nil {
		return 0, err
	}
	return reply.EADataSize, nil
}

// Get returns the named value. It asks for the size first and then reads
// the value with a buffer of that size.
func (c *Client) Get(ctx context.Context, f fid.FID, name string) ([]byte, error) {
	size, err := c.Size(ctx, f, name)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}

	reply, err := c.Getxattr(ctx, &handler.GetRequest{
		FID:          f,
		Valid:        handler.ValidXattr,
		Name:         name,
		MaxReplySize: size,
	})
	if err != nil {
		return nil, err
	}
	if err := xattr.FromErrno(reply.Status, name); err != nil {
		return nil, err
	}
	return reply.EAData, nil
}

// List returns the attribute names of f.
func (c *Client) List(ctx context.Context, f fid.FID) ([]string, error) {
	reply, err := c.Getxattr(ctx, &handler.GetRequest{
		FID:          f,
		Valid:        handler.ValidXattrList,
		MaxReplySize: xattr.SizeMax,
	})
	if err != nil {
		return nil, err
	}
	if err := xattr.FromErrno(reply.Status, ""); err != nil {
		return nil, err
	}
	return xattr.SplitNames(reply.EAData), nil
}

// GetAll returns every attribute of f. maxReplySize bounds the total
// value bytes the server may return.
func (c *Client) GetAll(ctx context.Context, f fid.FID, maxReplySize int) ([]handler.Entry, error) {
	reply, err := c.Getxattr(ctx, &handler.GetRequest{
		FID:          f,
		Valid:        handler.ValidXattrAll,
		MaxReplySize: maxReplySize,
	})
	if err != nil {
		return nil, err
	}
	if err := xattr.FromErrno(reply.Status, ""); err != nil {
		return nil, err
	}
	return reply.Entries()
}

// Set stores value under name. The change time is the client's clock.
func (c *Client) Set(ctx context.Context, f fid.FID, name string, value []byte, flags xattr.SetFlags) (*handler.SetReply, error) {
	reply, err := c.Setxattr(ctx, &handler.SetRequest{
		FID:   f,
		Valid: handler.ValidXattr | handler.ValidCtime,
		Name:  name,
		Value: value,
		Flags: flags,
		Ctime: time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return reply, xattr.FromErrno(reply.Status, name)
}

// Remove deletes name.
func (c *Client) Remove(ctx context.Context, f fid.FID, name string) (*handler.SetReply, error) {
	reply, err := c.Setxattr(ctx, &handler.SetRequest{
		FID:   f,
		Valid: handler.ValidXattrRemove | handler.ValidCtime,
		Name:  name,
		Ctime: time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return reply, xattr.FromErrno(reply.Status, name)
}
