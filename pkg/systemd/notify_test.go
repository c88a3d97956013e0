package systemd

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "postpilot/pkg/logx"
)

func listen(t *testing.T) *net.UnixConn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func recv(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestNotifierSendsStates(t *testing.T) {
	conn := listen(t)
	n := NewNotifier(logx.Nop())

	n.Ready()
	assert.Equal(t, "READY=1", recv(t, conn))
	n.Status("job armed")
	assert.Equal(t, "STATUS=job armed", recv(t, conn))
	n.Stopping()
	assert.Equal(t, "STOPPING=1", recv(t, conn))
}

func TestWatchdogPings(t *testing.T) {
	conn := listen(t)
	t.Setenv("WATCHDOG_USEC", "100000")
	t.Setenv("WATCHDOG_PID", "")
	n := NewNotifier(logx.Logger{})
	assert.Equal(t, 100*time.Millisecond, n.WatchdogInterval())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.RunWatchdog(ctx) }()
	assert.Equal(t, "WATCHDOG=1", recv(t, conn))
	cancel()
	require.NoError(t, <-done)
}

func TestOutsideSystemdIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	n := NewNotifier(logx.Nop())
	assert.NotPanics(t, n.Ready)
	assert.Zero(t, n.WatchdogInterval())
	assert.NoError(t, n.RunWatchdog(context.Background()))
}
