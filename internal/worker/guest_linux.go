//go:build linux

package worker

import (
	"log/slog"
	"os"
	"syscall"
)

// mountEntry describes a filesystem mount for a guest init.
type mountEntry struct {
	source string
	target string
	fstype string
}

var guestMounts = []mountEntry{
	{source: "proc", target: "/proc", fstype: "proc"},
	{source: "sysfs", target: "/sys", fstype: "sysfs"},
	{source: "devtmpfs", target: "/dev", fstype: "devtmpfs"},
}

// PrepareGuest mounts the pseudo filesystems a worker needs when it boots as
// PID 1 inside a microVM. In any other process it does nothing. It reports
// whether it ran.
func PrepareGuest(logger *slog.Logger) bool {
	if os.Getpid() != 1 {
		return false
	}

	logger.Info("running as PID 1, mounting essential filesystems")
	for _, m := range guestMounts {
		if err := os.MkdirAll(m.target, 0o755); err != nil {
			logger.Error("mkdir mount target", "target", m.target, "error", err)
			continue
		}
		if err := syscall.Mount(m.source, m.target, m.fstype, 0, ""); err != nil {
			logger.Error("mount", "target", m.target, "error", err)
		}
	}

	os.Setenv("HOME", "/root")
	os.Setenv("PATH", "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	return true
}
