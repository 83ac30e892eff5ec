package tools

import (
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/voltshift/internal/testutil/testlog"
)

type fakeRunner struct {
	calls  []string
	stderr string
	code   int32
	err    error
}

func (f *fakeRunner) Run(name string, args ...string) ([]byte, []byte, int32, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	return nil, []byte(f.stderr), f.code, f.err
}

func TestLoadModuleRunsModprobe(t *testing.T) {
	testlog.Start(t)
	r := &fakeRunner{}
	if err := LoadModule(r, "msr"); err != nil {
		t.Fatalf("load module: %v", err)
	}
	if len(r.calls) != 1 || r.calls[0] != "modprobe msr" {
		t.Fatalf("unexpected calls: %v", r.calls)
	}
}

func TestLoadModuleReportsStderr(t *testing.T) {
	testlog.Start(t)
	r := &fakeRunner{stderr: "modprobe: FATAL: Module msr not found\n", code: 1, err: errors.New("exit status 1")}
	err := LoadModule(r, "msr")
	if !errors.Is(err, ErrModuleLoad) {
		t.Fatalf("expected ErrModuleLoad, got %v", err)
	}
	if !strings.Contains(err.Error(), "Module msr not found") || !strings.Contains(err.Error(), "exit=1") {
		t.Fatalf("error lost detail: %v", err)
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	testlog.Start(t)
	_, _, code, err := ExecRunner{}.Run("voltshift-no-such-binary")
	if err == nil || code != 127 {
		t.Fatalf("expected exit 127, got code=%d err=%v", code, err)
	}
}
