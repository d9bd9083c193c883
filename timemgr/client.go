package timemgr

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ranlab/rtcore/log"
	"github.com/ranlab/rtcore/thread"
)

// DefaultRetryInterval is the delay between two connection attempts.
const DefaultRetryInterval = time.Second

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithRetryInterval sets the delay between connection attempts.
func WithRetryInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.retry = d }
}

// Client follows a remote Server and runs its callback once per tick
// received. Lost connections are re-established until Close.
type Client struct {
	addr     string
	callback func()
	retry    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	conn net.Conn

	connected atomic.Bool
	received  atomic.Uint64
	th        *thread.Thread
}

// NewClient starts following the server at addr. It returns at once; the
// connection is made in the background.
func NewClient(addr string, callback func(), opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		addr:     addr,
		callback: callback,
		retry:    DefaultRetryInterval,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.th = thread.Start("time_client", thread.AnyCore, c.run)
	return c
}

// Connected reports whether the client currently holds a connection.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Received returns the number of ticks delivered to the callback.
func (c *Client) Received() uint64 {
	return c.received.Load()
}

func (c *Client) run() {
	every := log.NewEvery(30 * time.Second)
	for {
		conn := c.dial(every)
		if conn == nil {
			return
		}
		err := c.follow(conn)
		c.connected.Store(false)
		c.setConn(nil)
		conn.Close()
		if c.ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) {
			log.WarningLog.Printf("time client: server %s closed the connection", c.addr)
		} else {
			log.WarningLog.Printf("time client: connection to %s lost: %v", c.addr, err)
		}
	}
}

// dial retries until connected. It returns nil once the client is closed.
func (c *Client) dial(every *log.Every) net.Conn {
	var d net.Dialer
	for {
		conn, err := d.DialContext(c.ctx, "tcp", c.addr)
		if err == nil {
			if tcp, ok := conn.(*net.TCPConn); ok {
				_ = tcp.SetNoDelay(true)
			}
			// Checked under the lock so Close cannot miss this connection.
			c.mu.Lock()
			if c.ctx.Err() != nil {
				c.mu.Unlock()
				conn.Close()
				return nil
			}
			c.conn = conn
			c.mu.Unlock()
			c.connected.Store(true)
			log.InfoLog.Printf("time client: connected to %s", c.addr)
			return conn
		}
		if c.ctx.Err() != nil {
			return nil
		}
		if every.ShouldLog() {
			log.WarningLog.Printf("time client: connection to %s failed, try again in %v: %v", c.addr, c.retry, err)
		}
		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(c.retry):
		}
	}
}

func (c *Client) follow(conn net.Conn) error {
	buf := make([]byte, 64)
	for {
		n, err := conn.Read(buf)
		for _, b := range buf[:n] {
			for i := 0; i < int(b); i++ {
				if c.callback != nil {
					c.callback()
				}
			}
			c.received.Add(uint64(b))
		}
		if err != nil {
			return err
		}
	}
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// dropConnection closes the current connection, forcing a reconnect.
func (c *Client) dropConnection() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
}

// Close stops the client. Shutdown wins over any pending reconnect.
func (c *Client) Close() {
	c.cancel()
	c.dropConnection()
	c.th.Join()
}
