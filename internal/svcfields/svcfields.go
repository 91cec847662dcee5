// Package svcfields holds the log field conventions shared by etcdgw packages.
package svcfields

import (
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey tags log entries with the component that emitted them.
const SubsystemKey = pslog.TrustedString("sys")

// Subsystem joins parts with dots, dropping empty fragments.
func Subsystem(parts ...string) string {
	kept := parts[:0:0]
	for _, part := range parts {
		if part = strings.Trim(part, ". "); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, ".")
}

// WithSubsystem returns logger tagged with subsystem. A nil logger yields a
// no-op logger.
func WithSubsystem(logger pslog.Logger, subsystem string) pslog.Logger {
	if logger == nil {
		return pslog.NoopLogger()
	}
	if subsystem = Subsystem(subsystem); subsystem == "" {
		return logger
	}
	return logger.With(SubsystemKey, subsystem)
}

// WithBase tags base with subsystem when it is a full pslog.Logger and
// returns it unchanged otherwise.
func WithBase(base pslog.Base, subsystem string) pslog.Base {
	if base == nil {
		return pslog.NoopLogger()
	}
	if logger, ok := base.(pslog.Logger); ok {
		return WithSubsystem(logger, subsystem)
	}
	return base
}
