//go:build !linux

package worker

import "log/slog"

// PrepareGuest does nothing outside Linux.
func PrepareGuest(*slog.Logger) bool { return false }
