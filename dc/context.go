package dc

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LogLevel mirrors the verbosity levels of the download library.
type LogLevel int

const (
	LogNone LogLevel = iota
	LogError
	LogWarning
	LogInfo
	LogDebug
	LogAll
)

// ParseLogLevel converts a level name to a LogLevel. Unknown names give
// LogWarning.
func ParseLogLevel(name string) LogLevel {
	switch name {
	case "none", "NONE":
		return LogNone
	case "error", "ERROR":
		return LogError
	case "warning", "warn", "WARNING", "WARN":
		return LogWarning
	case "info", "INFO":
		return LogInfo
	case "debug", "DEBUG":
		return LogDebug
	case "all", "ALL", "trace", "TRACE":
		return LogAll
	default:
		return LogWarning
	}
}

// Context is the library context handed to transport backends. Backends
// keep a reference for diagnostics but never own it.
type Context struct {
	level  LogLevel
	out    io.Writer
	logger *logrus.Logger
}

// NewContext returns a context logging to stderr at LogWarning.
func NewContext() *Context {
	c := &Context{out: os.Stderr, logger: logrus.New()}
	c.SetLogLevel(LogWarning)
	return c
}

func (c *Context) SetLogLevel(level LogLevel) {
	c.level = level
	if level == LogNone {
		c.logger.SetOutput(io.Discard)
		return
	}
	c.logger.SetOutput(c.out)
	switch level {
	case LogError:
		c.logger.SetLevel(logrus.ErrorLevel)
	case LogWarning:
		c.logger.SetLevel(logrus.WarnLevel)
	case LogInfo:
		c.logger.SetLevel(logrus.InfoLevel)
	case LogDebug:
		c.logger.SetLevel(logrus.DebugLevel)
	default:
		c.logger.SetLevel(logrus.TraceLevel)
	}
}

func (c *Context) LogLevel() LogLevel {
	if c == nil {
		return LogNone
	}
	return c.level
}

// SetOutput redirects log output, mostly for tests and the GUI status view.
func (c *Context) SetOutput(w io.Writer) {
	c.out = w
	if c.level != LogNone {
		c.logger.SetOutput(w)
	}
}

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Log returns a logger entry for component. A nil Context logs nowhere.
func (c *Context) Log(component string) *logrus.Entry {
	if c == nil || c.logger == nil {
		return logrus.NewEntry(discard)
	}
	return c.logger.WithField("component", component)
}
