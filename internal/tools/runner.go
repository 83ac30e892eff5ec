package tools

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var ErrModuleLoad = errors.New("tools: kernel module load failed")

// CommandRunner abstracts host command execution.
type CommandRunner interface {
	Run(name string, args ...string) ([]byte, []byte, int32, error)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

// Run returns stdout, stderr and the exit code. A missing binary reports 127.
func (r ExecRunner) Run(name string, args ...string) ([]byte, []byte, int32, error) {
	cmd := exec.Command(name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), int32(exitErr.ExitCode()), err
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return stdout.Bytes(), stderr.Bytes(), 127, err
	}
	return stdout.Bytes(), stderr.Bytes(), 1, err
}

// LoadModule loads a kernel module through modprobe.
func LoadModule(r CommandRunner, module string) error {
	_, stderr, code, err := r.Run("modprobe", module)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%w: modprobe %s exit=%d: %s", ErrModuleLoad, module, code, msg)
	}
	return nil
}
