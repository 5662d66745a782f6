package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/lightninglabs/arq/arq"
	"github.com/pkg/errors"
)

const (
	// MaxDatagramSize is the largest frame a UDP channel sends or
	// receives.
	MaxDatagramSize = 65507
)

var (
	// ErrNoPeer is returned by Send on a listening channel that has not
	// heard from a peer yet.
	ErrNoPeer = errors.New("no peer address known yet")

	// ErrFrameTooLarge is returned by Send for frames that don't fit into
	// a single datagram.
	ErrFrameTooLarge = errors.New("frame exceeds datagram size")
)

// UDP is an arq.Channel over a UDP socket. A dialing channel talks to a fixed
// peer. A listening channel locks onto the address of the first datagram it
// receives and ignores every other source afterwards.
type UDP struct {
	conn *net.UDPConn

	// connected is set for dialed sockets, which are bound to their
	// peer and use Write instead of WriteToUDP.
	connected bool

	peerMtx sync.RWMutex
	peer    *net.UDPAddr

	readMtx sync.Mutex
	readBuf []byte

	closeOnce sync.Once
}

var _ arq.Channel = (*UDP)(nil)

// Dial creates a channel that exchanges datagrams with the peer at address.
func Dial(address string) (*UDP, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", address)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", address)
	}

	log.Debugf("Dialed %v from %v", addr, conn.LocalAddr())

	return &UDP{
		conn:      conn,
		connected: true,
		peer:      addr,
		readBuf:   make([]byte, MaxDatagramSize),
	}, nil
}

// Listen creates a channel bound to address that waits for a peer.
func Listen(address string) (*UDP, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", address)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", address)
	}

	log.Debugf("Listening on %v", conn.LocalAddr())

	return &UDP{
		conn:    conn,
		readBuf: make([]byte, MaxDatagramSize),
	}, nil
}

// LocalAddr returns the local address of the socket.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Peer returns the address of the peer, or nil if a listening channel has not
// heard from one yet.
func (u *UDP) Peer() *net.UDPAddr {
	u.peerMtx.RLock()
	defer u.peerMtx.RUnlock()

	return u.peer
}

// Send writes b as a single datagram to the peer.
func (u *UDP) Send(ctx context.Context, b []byte) error {
	if len(b) > MaxDatagramSize {
		return errors.Wrapf(ErrFrameTooLarge, "%d bytes", len(b))
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	if err := u.conn.SetWriteDeadline(deadline); err != nil {
		return u.mapErr(ctx, err)
	}

	if u.connected {
		_, err := u.conn.Write(b)
		return u.mapErr(ctx, err)
	}

	peer := u.Peer()
	if peer == nil {
		return ErrNoPeer
	}

	_, err := u.conn.WriteToUDP(b, peer)
	return u.mapErr(ctx, err)
}

// Recv blocks until a datagram from the peer arrives or ctx is done. Running
// into the context deadline returns context.DeadlineExceeded, a closed socket
// returns io.EOF.
func (u *UDP) Recv(ctx context.Context) ([]byte, error) {
	u.readMtx.Lock()
	defer u.readMtx.Unlock()

	deadline, _ := ctx.Deadline()
	if err := u.conn.SetReadDeadline(deadline); err != nil {
		return nil, u.mapErr(ctx, err)
	}

	// Unblock the read if the context is cancelled before its deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = u.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		n, from, err := u.conn.ReadFromUDP(u.readBuf)
		if err != nil {
			return nil, u.mapErr(ctx, err)
		}

		if !u.acceptFrom(from) {
			log.Tracef("Ignoring datagram from %v", from)
			continue
		}

		b := make([]byte, n)
		copy(b, u.readBuf[:n])

		return b, nil
	}
}

// acceptFrom reports whether a datagram from addr belongs to this channel.
// A listening channel adopts the first sender it sees as its peer.
func (u *UDP) acceptFrom(addr *net.UDPAddr) bool {
	if u.connected {
		return true
	}

	u.peerMtx.Lock()
	defer u.peerMtx.Unlock()

	if u.peer == nil {
		log.Debugf("Locked onto peer %v", addr)
		u.peer = addr
		return true
	}

	return u.peer.IP.Equal(addr.IP) && u.peer.Port == addr.Port
}

// Close closes the socket. Blocked and later calls to Recv return io.EOF.
func (u *UDP) Close() error {
	var err error
	u.closeOnce.Do(func() {
		err = u.conn.Close()
	})

	return err
}

// mapErr translates socket errors into the errors arq.Channel promises.
func (u *UDP) mapErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, net.ErrClosed) {
		return io.EOF
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return context.DeadlineExceeded
	}

	return errors.Wrap(err, "udp")
}
