// Package logging wraps a single package-level logrus logger, configured
// once at startup from FEDIS_LOG (spec §6). The teacher proxy logged every
// lifecycle event with the standard log package (log.Printf/log.Fatalf at
// listener start, connection accept/close, forward errors); fedis keeps
// that density of call sites but structures them through logrus, the way
// canonical-redis_exporter does ("log" aliased to sirupsen/logrus).
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	base.SetLevel(logrus.InfoLevel)
}

// Level names accepted by FEDIS_LOG.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Configure sets the active log level from one of the FEDIS_LOG strings.
// Unrecognized values fall back to info.
func Configure(level string) {
	switch level {
	case LevelDebug:
		base.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		base.SetLevel(logrus.WarnLevel)
	case LevelError:
		base.SetLevel(logrus.ErrorLevel)
	default:
		base.SetLevel(logrus.InfoLevel)
	}
}

// Logger returns the shared logger, for call sites that want structured
// fields via logrus.Entry.
func Logger() *logrus.Logger { return base }

func Debugf(format string, args ...interface{}) { base.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { base.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { base.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { base.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { base.Fatalf(format, args...) }
