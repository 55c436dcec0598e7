package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// LevelEnv overrides the configured level when set.
const LevelEnv = "MONITOR_LOG_LEVEL"

var (
	base    = newBase()
	loggers = make(map[string]*logrus.Entry)
	mu      sync.Mutex
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&TextFormatter{Color: isatty.IsTerminal(os.Stderr.Fd())})
	l.SetLevel(logrus.InfoLevel)
	if lvl, err := logrus.ParseLevel(os.Getenv(LevelEnv)); err == nil {
		l.SetLevel(lvl)
	}
	return l
}

// NewLogger returns the shared logger for a component, tagged with a
// "component" field. All components share one output, level and format.
func NewLogger(component string) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()

	if logger, ok := loggers[component]; ok {
		return logger
	}
	logger := base.WithField("component", component)
	loggers[component] = logger
	return logger
}

// Configure applies level and format ("text" or "json") to every logger.
// MONITOR_LOG_LEVEL, when set, wins over level.
func Configure(level, format string) error {
	if env := os.Getenv(LevelEnv); env != "" {
		level = env
	}
	if err := SetLevel(level); err != nil {
		return err
	}

	switch strings.ToLower(format) {
	case "", "text":
		base.SetFormatter(&TextFormatter{Color: isTerminal(base.Out)})
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// SetLevel changes the level of every logger. An empty level means info.
func SetLevel(level string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	base.SetLevel(lvl)
	return nil
}

// SetOutput redirects every logger. Colors are disabled for non-terminals.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
	if _, ok := base.Formatter.(*TextFormatter); ok {
		base.SetFormatter(&TextFormatter{Color: isTerminal(w)})
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

var componentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

// TextFormatter renders "time [LEVEL] [component] message key=value".
type TextFormatter struct {
	Color bool
}

func (f *TextFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder

	b.WriteString(entry.Time.Format("2006-01-02 15:04:05"))

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	fmt.Fprintf(&b, " [%s]", strings.ToUpper(level))

	if component, ok := entry.Data["component"]; ok {
		name := fmt.Sprint(component)
		if f.Color {
			name = componentStyle.Render(name)
		}
		fmt.Fprintf(&b, " [%s]", name)
	}

	b.WriteString(" ")
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != "component" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}

	b.WriteString("\n")
	return []byte(b.String()), nil
}
