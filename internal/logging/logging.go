// Package logging configures the process wide slog logger for the CLIs.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/photoqueue/internal/utils"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

type Options struct {
	// Level applies to both outputs.
	Level slog.Level
	// Console receives colored output. Defaults to stdout; set Quiet to disable.
	Console io.Writer
	Quiet   bool
	// File is an optional log file, truncated on open.
	File string
}

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(s)))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// New builds a logger from opts. The returned closer flushes and closes the log file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var handlers []slog.Handler
	var closers multiCloser

	if !opts.Quiet {
		console := opts.Console
		if console == nil {
			console = os.Stdout
		}
		handlers = append(handlers, tint.NewHandler(console, &tint.Options{
			Level:      opts.Level,
			TimeFormat: consoleTimeFormat,
			NoColor:    !isTerminal(console),
		}))
	}

	if opts.File != "" {
		if err := utils.EnsureParent(opts.File); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		lw := NewLineWriter(file)
		closers = append(closers, lw, file)
		handlers = append(handlers, slog.NewTextHandler(lw, &slog.HandlerOptions{
			Level: opts.Level,
			// time is added by the line writer
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					return slog.Attr{}
				}
				return a
			},
		}))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, nil)
	case 1:
		handler = handlers[0]
	default:
		handler = NewMultiHandler(handlers...)
	}
	return slog.New(handler), closers, nil
}

// Setup is New followed by slog.SetDefault.
func Setup(opts Options) (io.Closer, error) {
	logger, closer, err := New(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
