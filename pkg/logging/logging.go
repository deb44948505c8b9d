// Package logging builds the per-component loggers used across prshot.
//
// There is no package-level logger. Every component receives a *logrus.Entry
// (usually through its Options) that already carries a component field.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Mode selects how log lines are rendered.
type Mode int

const (
	// ModeInteractive renders human readable text, colored on a terminal.
	ModeInteractive Mode = iota
	// ModeCI renders GitHub Actions workflow commands for warnings and errors.
	ModeCI
)

// Config holds the settings shared by all component loggers of a run.
type Config struct {
	Mode  Mode
	Level logrus.Level
	Out   io.Writer
}

// DefaultConfig returns an interactive, info level config writing to stderr.
func DefaultConfig() Config {
	return Config{
		Mode:  ModeInteractive,
		Level: logrus.InfoLevel,
		Out:   os.Stderr,
	}
}

// New returns a logger for namespace using the default config with the given mode.
func New(namespace string, mode Mode) *logrus.Entry {
	c := DefaultConfig()
	c.Mode = mode
	return c.New(namespace)
}

// New returns a logger tagged with the given namespace.
func (c Config) New(namespace string) *logrus.Entry {
	l := logrus.New()
	l.SetLevel(c.Level)
	if c.Out != nil {
		l.SetOutput(c.Out)
	}

	switch c.Mode {
	case ModeCI:
		l.SetFormatter(&ActionsFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return l.WithField("component", namespace)
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "discard")
}

// ModeFromEnv reports ModeCI when the CI environment variable is truthy.
func ModeFromEnv(getenv func(string) string) Mode {
	switch strings.ToLower(getenv("CI")) {
	case "1", "true", "yes":
		return ModeCI
	}
	return ModeInteractive
}

// ActionsFormatter writes entries as GitHub Actions workflow commands.
// Info lines are written as plain text since Actions has no command for them.
type ActionsFormatter struct{}

// Format implements logrus.Formatter.
func (f *ActionsFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer

	switch e.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		b.WriteString("::error::")
	case logrus.WarnLevel:
		b.WriteString("::warning::")
	case logrus.DebugLevel, logrus.TraceLevel:
		b.WriteString("::debug::")
	}

	b.WriteString(escapeData(e.Message))

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, escapeData(fmt.Sprint(e.Data[k])))
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

// escapeData escapes the characters the Actions runner treats specially in command data.
func escapeData(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	return strings.ReplaceAll(s, "\n", "%0A")
}
