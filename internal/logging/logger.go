package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. format "console" gives human readable output,
// anything else writes JSON lines.
func New(level, format string, component string) zerolog.Logger {
	return NewWithWriter(os.Stdout, level, format, component)
}

func NewWithWriter(w io.Writer, level, format, component string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := w
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	l := zerolog.New(out).Level(lvl).With().Timestamp()
	if component != "" {
		l = l.Str("component", component)
	}
	return l.Logger()
}

// RequestWriter adapts a logger into the io.Writer fiber's request logger expects.
type RequestWriter struct {
	Logger zerolog.Logger
}

func (w RequestWriter) Write(p []byte) (int, error) {
	w.Logger.Info().Msg(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
