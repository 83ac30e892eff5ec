package config

import (
	"fmt"
	"os"
)

// Template returns an annotated daemon config with every key at its default.
func Template() string {
	return daemonTemplate
}

// WriteTemplate writes Template to path. An existing file is kept unless
// overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(daemonTemplate), 0o600)
}

const daemonTemplate = `# voltshiftd configuration

socket_path = "/run/voltshift.sock"
socket_mode = "0660"

# Register device for one cpu; the mailbox is package scoped so cpu 0 is fine.
cpu = 0
device_path = "/dev/cpu/%d/msr"

# Run against an in-memory register file instead of hardware.
simulate = false

mailbox_retries = 5
mailbox_retry_pause = "2ms"

# Shared report refresh period. "0s" disables sampling.
report_interval = "1s"

# Serve prometheus metrics here when set, e.g. "127.0.0.1:9464".
metrics_addr = ""

# Empty lists allow every local user. uid 0 is always allowed.
allowed_uids = []
allowed_gids = []

# Registers non-root callers may write. Empty allows all.
writable_msrs = []
`
