package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/voltshift/internal/config"
	"github.com/danmuck/voltshift/internal/testutil/testlog"
	"github.com/danmuck/voltshift/internal/tools"
)

// modprobeStub creates the device node when asked to load the module.
type modprobeStub struct {
	node  string
	calls int
	fail  bool
}

func (m *modprobeStub) Run(name string, args ...string) ([]byte, []byte, int32, error) {
	m.calls++
	if m.fail {
		return nil, []byte("not found"), 1, errors.New("exit status 1")
	}
	return nil, nil, 0, os.WriteFile(m.node, make([]byte, 8), 0o600)
}

func TestOpenDeviceLoadsModuleWhenNodeMissing(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DevicePath = filepath.Join(dir, "msr%d")

	stub := &modprobeStub{node: filepath.Join(dir, "msr0")}
	dev, err := openDeviceWith(cfg, stub)
	if err != nil {
		t.Fatalf("open device: %v", err)
	}
	defer dev.Close()
	if stub.calls != 1 {
		t.Fatalf("expected one modprobe, got %d", stub.calls)
	}

	// Present node: no module load.
	again, err := openDeviceWith(cfg, stub)
	if err != nil {
		t.Fatalf("reopen device: %v", err)
	}
	again.Close()
	if stub.calls != 1 {
		t.Fatalf("modprobe ran for an existing node")
	}
}

func TestOpenDeviceReportsModuleFailure(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultConfig()
	cfg.DevicePath = filepath.Join(t.TempDir(), "msr%d")

	_, err := openDeviceWith(cfg, &modprobeStub{fail: true})
	if !errors.Is(err, tools.ErrModuleLoad) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected module load and not-exist errors, got %v", err)
	}
}
