// Package logging centralizes sid's logrus setup: output destination,
// level, and format, configured once at startup the same way the teacher
// daemon's app.Before hook does it.
package logging

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Options mirrors the teacher's --log/--log-level/--log-format flags.
type Options struct {
	Path   string // empty means stderr
	Level  string // debug, info, warning, error, fatal
	Format string // text or json
}

// Setup configures the package-global logrus logger per opts. Call once,
// from the daemon's startup path (cmd/sid's runDaemon).
func Setup(opts Options) error {
	if opts.Path != "" {
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0666)
		if err != nil {
			return fmt.Errorf("opening log file %s: %w", opts.Path, err)
		}
		logrus.SetOutput(f)
	} else {
		logrus.SetOutput(os.Stderr)
	}

	if opts.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		})
	}

	level := opts.Level
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log-level %q not recognized: %w", level, err)
	}
	logrus.SetLevel(parsed)

	return nil
}

// DeviceID is a stringer wrapping a device's major:minor pair, used as a
// structured logging field so every scan/command log line that mentions a
// device renders it consistently (mirrors the teacher's
// formatter.ContainerID convention of a small stringer type per log-tagged
// entity rather than ad hoc Sprintf calls scattered through call sites).
type DeviceID struct {
	Major uint32
	Minor uint32
}

func (d DeviceID) String() string {
	return fmt.Sprintf("%d:%d", d.Major, d.Minor)
}

// Fields builds the standard logrus.Fields for a device-scoped log line.
func (d DeviceID) Fields() logrus.Fields {
	return logrus.Fields{"devno": d.String()}
}
