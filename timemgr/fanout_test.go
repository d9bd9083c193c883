package timemgr

import (
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ranlab/rtcore/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cb func()) *Server {
	t.Helper()
	s, err := NewServer("127.0.0.1:0", cb)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServerChunksTicks(t *testing.T) {
	var local atomic.Int64
	s := newTestServer(t, func() { local.Add(1) })

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, time.Millisecond)

	s.Tick(600)
	buf := make([]byte, 3)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)

	assert.Equal(t, []byte{255, 255, 90}, buf)
	assert.Equal(t, int64(600), local.Load())
}

func TestServerDropsDisconnectedClient(t *testing.T) {
	s := newTestServer(t, nil)

	a, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	b, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer b.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 2 }, time.Second, time.Millisecond)

	a.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, time.Millisecond)

	// The remaining client still gets ticks.
	s.Tick(3)
	buf := make([]byte, 1)
	require.NoError(t, b.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(b, buf)
	require.NoError(t, err)
	assert.Equal(t, byte(3), buf[0])
}

func TestServerTicksWithoutClients(t *testing.T) {
	var local atomic.Int64
	s := newTestServer(t, func() { local.Add(1) })
	s.Tick(10)
	s.Tick(0)
	require.Eventually(t, func() bool { return s.Forwarded() == 10 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(10), local.Load())
}

func TestFanOutAcrossReconnect(t *testing.T) {
	var local atomic.Int64
	s := newTestServer(t, func() { local.Add(1) })

	var remote atomic.Int64
	c := NewClient(s.Addr().String(), func() { remote.Add(1) }, WithRetryInterval(20*time.Millisecond))
	defer c.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, time.Millisecond)

	for i := 0; i < 300; i++ {
		s.Tick(1)
	}
	require.Eventually(t, func() bool { return remote.Load() == 300 }, 2*time.Second, time.Millisecond)

	c.dropConnection()
	// The old session is gone and the new one is registered.
	require.Eventually(t, func() bool {
		return s.Accepted() == 2 && s.ClientCount() == 1
	}, 2*time.Second, time.Millisecond)

	s.Tick(700)
	require.Eventually(t, func() bool { return remote.Load() == 1000 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, local.Load(), remote.Load())
	assert.Equal(t, uint64(1000), c.Received())
}

func TestClientRetriesUntilServerIsUp(t *testing.T) {
	// Reserve a port, then free it for the server started later.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	var remote atomic.Int64
	c := NewClient(addr, func() { remote.Add(1) }, WithRetryInterval(20*time.Millisecond))
	defer c.Close()
	time.Sleep(60 * time.Millisecond)
	assert.False(t, c.Connected())

	s, err := NewServer(addr, nil)
	require.NoError(t, err)
	defer s.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Tick(5)
	require.Eventually(t, func() bool { return remote.Load() == 5 }, time.Second, time.Millisecond)
}

func TestClientCloseWhileRetrying(t *testing.T) {
	c := NewClient("127.0.0.1:1", nil, WithRetryInterval(time.Hour))
	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not interrupt the retry loop")
	}
}

func TestManagerStandaloneIQ(t *testing.T) {
	var fnA, fnB atomic.Int64
	m, err := Start(config.TimeManagement{
		TimeSource: config.TimeSourceIQSamples,
		Mode:       config.ModeStandalone,
		ServerIP:   config.DefaultServerIP,
		ServerPort: config.DefaultServerPort,
	}, func() { fnA.Add(1) }, func() { fnB.Add(1) })
	require.NoError(t, err)
	defer m.Finish()
	assert.Nil(t, m.ServerAddr())

	m.AddSamples(30720*10, 30720000)
	require.Eventually(t, func() bool { return m.Ticks() == 10 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(10), fnA.Load())
	assert.Equal(t, int64(10), fnB.Load())
}

func TestManagerServerAndClient(t *testing.T) {
	srv, err := Start(config.TimeManagement{
		TimeSource: config.TimeSourceIQSamples,
		Mode:       config.ModeServer,
		ServerIP:   "127.0.0.1",
		ServerPort: 0,
	})
	require.NoError(t, err)
	defer srv.Finish()
	require.NotNil(t, srv.ServerAddr())
	port := srv.ServerAddr().(*net.TCPAddr).Port

	var followerTicks atomic.Int64
	cli, err := Start(config.TimeManagement{
		Mode:       config.ModeClient,
		ServerIP:   "127.0.0.1",
		ServerPort: port,
	}, func() { followerTicks.Add(1) })
	require.NoError(t, err)
	defer cli.Finish()
	require.Eventually(t, func() bool { return srv.Server().ClientCount() == 1 }, 3*time.Second, time.Millisecond)

	// A client has no source of its own.
	assert.NotPanics(t, func() { cli.AddSamples(1000, 1000) })

	srv.AddSamples(2000*25, 2000*1000)
	require.Eventually(t, func() bool { return followerTicks.Load() == 25 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, uint64(25), srv.Ticks())
	assert.Equal(t, uint64(25), cli.Ticks())
}

func TestManagerRejectsBadConfig(t *testing.T) {
	_, err := Start(config.TimeManagement{TimeSource: config.TimeSourceRealtime, Mode: "relay"})
	assert.Error(t, err)
	_, err = Start(config.TimeManagement{TimeSource: "gps", Mode: config.ModeStandalone})
	assert.Error(t, err)
}

func TestManagerServerCountsOnlyForwardedTicks(t *testing.T) {
	for i := 0; i < 20; i++ {
		m, err := Start(config.TimeManagement{
			TimeSource: config.TimeSourceRealtime,
			Mode:       config.ModeServer,
			ServerIP:   "127.0.0.1",
			ServerPort: 0,
		})
		require.NoError(t, err)
		time.Sleep(3 * time.Millisecond)
		m.Finish()
		assert.Equal(t, m.Server().Forwarded(), m.Ticks(), "cycle %d: a tick bypassed the server", i)
	}
}
