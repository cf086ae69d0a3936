// Package logging builds the gommon loggers shared by the CLI and the echo server.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/labstack/gommon/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// ParseLevel maps a config string to a gommon level. Unknown values mean INFO.
func ParseLevel(s string) log.Lvl {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}

// New returns a logger writing to w. A nil w means stderr, colored only on a terminal.
func New(prefix, level string, w io.Writer) *log.Logger {
	l := log.New(prefix)
	l.SetLevel(ParseLevel(level))
	switch {
	case w != nil:
		l.SetOutput(w)
		l.DisableColor()
	case isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()):
		l.SetOutput(colorable.NewColorableStderr())
		l.EnableColor()
	default:
		l.SetOutput(os.Stderr)
		l.DisableColor()
	}
	return l
}
