package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/voltshift/internal/broker"
	"github.com/danmuck/voltshift/internal/daemon"
	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/danmuck/voltshift/internal/msr"
	"github.com/danmuck/voltshift/internal/server"
	"github.com/danmuck/voltshift/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBroker(t *testing.T) (string, *msr.Memory, *broker.Broker) {
	t.Helper()
	dev := daemon.SimulatedDevice()
	b := broker.New(dev, broker.Options{Mailbox: mailbox.Options{Sleep: func(time.Duration) {}}})
	require.NoError(t, b.Start())

	dir, err := os.MkdirTemp("", "vsc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "c.sock")

	srv := server.New(server.Config{SocketPath: path}, b, nil)
	ln, err := srv.Listen()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return path, dev, b
}

func run(t *testing.T, socket string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--socket", socket}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestReadWriteCommands(t *testing.T) {
	testlog.Start(t)
	socket, dev, _ := startBroker(t)

	out, err := run(t, socket, "write", "0x1a0", "0x4000850089")
	require.NoError(t, err)
	assert.Contains(t, out, "0x1a0")
	v, err := dev.Read(msr.MiscEnable)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x4000850089), v)

	out, err = run(t, socket, "read", "1A0")
	require.NoError(t, err)
	assert.Contains(t, out, "msr 0x1a0 = ")
	assert.Contains(t, out, "4000850089")

	_, err = run(t, socket, "read", "zz")
	require.Error(t, err)
}

func TestOffsetCommand(t *testing.T) {
	testlog.Start(t)
	socket, _, _ := startBroker(t)

	out, err := run(t, socket, "offset", "cpu=-100", "cache=-100")
	require.NoError(t, err)
	assert.Contains(t, out, "set cpu to -100.0 mV")
	assert.Contains(t, out, "gpu")

	_, err = run(t, socket, "offset", "cpu=50")
	require.Error(t, err, "positive offsets need --allow-overvolt")
	_, err = run(t, socket, "offset", "--allow-overvolt", "cpu=10")
	require.NoError(t, err)

	_, err = run(t, socket, "offset", "cpu")
	require.Error(t, err)
	_, err = run(t, socket, "offset", "fan=-10")
	require.ErrorIs(t, err, mailbox.ErrUnknownDomain)
}

func TestPowerAndTurboCommands(t *testing.T) {
	testlog.Start(t)
	socket, _, _ := startBroker(t)

	out, err := run(t, socket, "power", "25", "40")
	require.NoError(t, err)
	assert.Contains(t, out, "PL1 25.0 W")
	assert.Contains(t, out, "PL2 40.0 W")

	_, err = run(t, socket, "power", "25")
	require.Error(t, err)

	out, err = run(t, socket, "turbo", "off")
	require.NoError(t, err)
	assert.Contains(t, out, "turbo disabled")
	out, err = run(t, socket, "turbo")
	require.NoError(t, err)
	assert.Contains(t, out, "turbo disabled")

	_, err = run(t, socket, "turbo", "maybe")
	require.Error(t, err)
}

func TestInfoMonAndReport(t *testing.T) {
	testlog.Start(t)
	socket, _, b := startBroker(t)
	broker.NewSampler(b, time.Second).SampleOnce()

	out, err := run(t, socket, "info", "--interval", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "2800 MHz")
	assert.Contains(t, out, "session")

	out, err = run(t, socket, "mon", "--interval", "1ms", "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count([]byte(out), []byte("MHz")))

	out, err = run(t, socket, "report")
	require.NoError(t, err)
	assert.Contains(t, out, "sequence 1")
	assert.Contains(t, out, "perf_status")
	assert.Contains(t, out, "digital_io")
}

func TestUnreachableSocket(t *testing.T) {
	testlog.Start(t)
	_, err := run(t, filepath.Join(t.TempDir(), "missing.sock"), "read", "198")
	require.Error(t, err)
}
