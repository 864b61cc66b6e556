package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

const (
	ComponentMain    = "main"
	ComponentConfig  = "config"
	ComponentApply   = "apply"
	ComponentNetlink = "netlink"
)

var (
	Log             *slog.Logger
	output          io.Writer
	defaultLevel    slog.Level
	componentLevels map[string]slog.Level
	levelsMu        sync.RWMutex
	format          string
	pid             int
)

func init() {
	defaultLevel = slog.LevelInfo
	componentLevels = make(map[string]slog.Level)
	format = "text"
	output = os.Stderr
	pid = os.Getpid()

	Log = slog.New(NewTextHandler(output, ""))
}

// Configure replaces the global logger. Component levels override the
// default level for loggers returned by Component.
func Configure(w io.Writer, logFormat string, level LogLevel, components map[string]LogLevel) {
	levelsMu.Lock()
	if w != nil {
		output = w
	}
	defaultLevel = parseLevel(string(level))
	format = logFormat
	componentLevels = make(map[string]slog.Level)
	for name, lvl := range components {
		componentLevels[name] = parseLevel(string(lvl))
	}
	levelsMu.Unlock()

	Log = slog.New(newHandler(""))
}

// FileWriter returns a size rotated log file.
func FileWriter(path string, maxSizeMB, maxBackups int) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB, // megabytes
		MaxBackups: maxBackups,
	}
}

func newHandler(component string) slog.Handler {
	levelsMu.RLock()
	defer levelsMu.RUnlock()

	if strings.ToLower(format) == "json" {
		var h slog.Handler = slog.NewJSONHandler(output, &slog.HandlerOptions{
			Level: componentLeveler(component),
		})
		if component != "" {
			h = h.WithAttrs([]slog.Attr{slog.String("component", component)})
		}
		return h
	}
	return NewTextHandler(output, component)
}

// Component returns a logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.New(newHandler(name))
}

type componentLeveler string

func (c componentLeveler) Level() slog.Level {
	return getEffectiveLevel(string(c))
}

// TextHandler prints "time [pid] [component] msg k=v" lines.
type TextHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	attrs     []slog.Attr
	component string
}

func NewTextHandler(w io.Writer, component string) *TextHandler {
	return &TextHandler{mu: &sync.Mutex{}, w: w, component: component}
}

func (h *TextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= getEffectiveLevel(h.component)
}

func (h *TextHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	buf := make([]byte, 0, 256)
	buf = append(buf, r.Time.Format("2006/01/02 15:04:05.000")...)
	buf = append(buf, fmt.Sprintf(" [%d]", pid)...)
	if h.component != "" {
		buf = append(buf, fmt.Sprintf(" [%s]", h.component)...)
	}
	buf = append(buf, ' ')
	buf = append(buf, r.Level.String()...)
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)
	for _, a := range attrs {
		buf = append(buf, fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())...)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &TextHandler{mu: h.mu, w: h.w, attrs: merged, component: h.component}
}

func (h *TextHandler) WithGroup(name string) slog.Handler {
	component := name
	if h.component != "" {
		component = h.component + "." + name
	}
	return &TextHandler{mu: h.mu, w: h.w, attrs: h.attrs, component: component}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEffectiveLevel(component string) slog.Level {
	levelsMu.RLock()
	defer levelsMu.RUnlock()

	for c := component; c != ""; {
		if lvl, ok := componentLevels[c]; ok {
			return lvl
		}
		i := strings.LastIndexByte(c, '.')
		if i < 0 {
			break
		}
		c = c[:i]
	}
	return defaultLevel
}
