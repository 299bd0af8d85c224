// Package logadapter adapts a *logrus.Logger, configured the way
// vahagz-go-dbms's util/logger package does, to the small Debugf/Warnf
// interface flashkv.Store accepts.
package logadapter

import (
	"os"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// New returns a prefixed, timestamped logrus.Logger writing to stderr.
func New(debug bool) *logrus.Logger {
	level := logrus.InfoLevel
	if debug {
		level = logrus.DebugLevel
	}
	return &logrus.Logger{
		Out:   os.Stderr,
		Level: level,
		Formatter: &prefixed.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
			ForceFormatting: true,
		},
	}
}

// Adapter satisfies flashkv.Logger by forwarding to a *logrus.Logger.
type Adapter struct {
	L *logrus.Logger
}

func (a Adapter) Debugf(format string, args ...interface{}) { a.L.Debugf(format, args...) }
func (a Adapter) Warnf(format string, args ...interface{})  { a.L.Warnf(format, args...) }
