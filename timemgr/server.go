package timemgr

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ranlab/rtcore/log"
	"github.com/ranlab/rtcore/thread"
)

const (
	// maxTicksPerMessage is the largest tick count one wire byte carries.
	maxTicksPerMessage = 255
	writeTimeout       = time.Second
)

// Server runs the canonical clock callback and forwards every tick to the
// connected clients. Each message is one byte holding 1 to 255 ticks.
type Server struct {
	ln       net.Listener
	callback func()

	// pending accumulates ticks until the event loop picks them up.
	pending atomic.Uint64
	notify  chan struct{}
	stop    chan struct{}

	mu      sync.Mutex
	clients map[net.Conn]struct{}

	forwarded atomic.Uint64
	accepted  atomic.Uint64
	loop      *thread.Thread
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewServer listens on addr. callback runs once per tick on the server
// thread before the tick is forwarded.
func NewServer(addr string, callback func()) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("time server: listen on %s: %w", addr, err)
	}
	s := &Server{
		ln:       ln,
		callback: callback,
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		clients:  make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	s.loop = thread.Start("time_server", thread.AnyCore, s.eventLoop)
	log.InfoLog.Printf("time server: listening on %s", ln.Addr())
	return s, nil
}

// Addr is the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Tick queues n ticks. It never blocks.
func (s *Server) Tick(n uint64) {
	if n == 0 {
		return
	}
	s.pending.Add(n)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// AttachSource makes src drive the server, one tick per source tick.
func (s *Server) AttachSource(src *Source) {
	src.SetCallback(func() { s.Tick(1) })
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Accepted returns the number of connections accepted since start.
func (s *Server) Accepted() uint64 {
	return s.accepted.Load()
}

// Forwarded returns the number of ticks processed by the event loop.
func (s *Server) Forwarded() uint64 {
	return s.forwarded.Load()
}

func (s *Server) eventLoop() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.notify:
		}
		n := s.pending.Swap(0)
		if n == 0 {
			continue
		}
		if s.callback != nil {
			for i := uint64(0); i < n; i++ {
				s.callback()
			}
		}
		s.broadcast(n)
		s.forwarded.Add(n)
	}
}

func (s *Server) broadcast(n uint64) {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for n > 0 {
		chunk := min(n, maxTicksPerMessage)
		msg := []byte{byte(chunk)}
		for i, c := range conns {
			if c == nil {
				continue
			}
			_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.Write(msg); err != nil {
				log.WarningLog.Printf("time server: client %s disconnects: %v", c.RemoteAddr(), err)
				s.remove(c)
				conns[i] = nil
			}
		}
		n -= chunk
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.ErrorLog.Printf("time server: accept: %v", err)
			continue
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		s.mu.Lock()
		s.clients[conn] = struct{}{}
		s.mu.Unlock()
		s.accepted.Add(1)
		log.InfoLog.Printf("time server: client %s connected", conn.RemoteAddr())

		s.wg.Add(1)
		go s.watch(conn)
	}
}

// watch drops a client as soon as its socket reports anything: clients never
// send, so data, EOF and errors all end the session.
func (s *Server) watch(conn net.Conn) {
	defer s.wg.Done()
	var buf [1]byte
	_, err := conn.Read(buf[:])
	select {
	case <-s.stop:
	default:
		log.InfoLog.Printf("time server: client %s disconnects: %v", conn.RemoteAddr(), err)
	}
	s.remove(conn)
}

func (s *Server) remove(conn net.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

// Close stops the server and disconnects every client.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.ln.Close()
		s.mu.Lock()
		for c := range s.clients {
			c.Close()
		}
		s.mu.Unlock()
		s.loop.Join()
		s.wg.Wait()
		log.InfoLog.Printf("time server: stopped after %d ticks", s.forwarded.Load())
	})
	return err
}
