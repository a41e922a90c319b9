package wrapper

import (
	"errors"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"
)

// udpSocket owns the endpoint's UDP socket and hands it to quic.Transport as
// a net.PacketConn. It counts datagrams and makes Close idempotent, since
// both the transport teardown and a failed bind may try to close it.
//
// SetReadBuffer, SetWriteBuffer and SyscallConn reach the inner conn so
// quic-go can size the kernel buffers and set DF. ReadMsgUDP is not exposed:
// the batched OOB path reads the raw socket and would skip the counters.
type udpSocket struct {
	mu   sync.Mutex
	conn *net.UDPConn

	onRead  func()
	onWrite func()
}

func listenUDP(addr string) (*udpSocket, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}
	c, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}
	return &udpSocket{conn: c, onRead: func() {}, onWrite: func() {}}, nil
}

func isNetClosing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

func (s *udpSocket) current() (*net.UDPConn, error) {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return nil, net.ErrClosed
	}
	return c, nil
}

func (s *udpSocket) ReadFrom(p []byte) (int, net.Addr, error) {
	c, err := s.current()
	if err != nil {
		return 0, nil, err
	}
	n, addr, err := c.ReadFrom(p)
	if err == nil {
		s.onRead()
	}
	return n, addr, err
}

func (s *udpSocket) WriteTo(p []byte, addr net.Addr) (int, error) {
	c, err := s.current()
	if err != nil {
		return 0, err
	}
	n, err := c.WriteTo(p, addr)
	if err == nil {
		s.onWrite()
	}
	return n, err
}

// Close releases the port. Later calls return nil.
func (s *udpSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if isNetClosing(err) {
		err = nil
	}
	return err
}

func (s *udpSocket) LocalAddr() net.Addr {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return &net.UDPAddr{}
	}
	return c.LocalAddr()
}

func (s *udpSocket) SetDeadline(t time.Time) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	return c.SetDeadline(t)
}

func (s *udpSocket) SetReadDeadline(t time.Time) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	return c.SetReadDeadline(t)
}

func (s *udpSocket) SetWriteDeadline(t time.Time) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

func (s *udpSocket) SetReadBuffer(bytes int) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	return c.SetReadBuffer(bytes)
}

func (s *udpSocket) SetWriteBuffer(bytes int) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	return c.SetWriteBuffer(bytes)
}

func (s *udpSocket) SyscallConn() (syscall.RawConn, error) {
	c, err := s.current()
	if err != nil {
		return nil, err
	}
	return c.SyscallConn()
}
