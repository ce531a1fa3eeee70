// Package log provides the logging backend, based around the go-logging
// package. Every component gets a per-module logger from one shared
// backend so a single flag controls destination and level.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"
)

const logFormat = "%{time:15:04:05.000} %{level:.4s} %{module}: %{message}"

type discardCloser struct{}

func (discardCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardCloser) Close() error                { return nil }

// Backend is a log backend.
type Backend struct {
	sync.RWMutex

	backend logging.LeveledBackend
	w       io.WriteCloser

	file    string
	level   string
	disable bool
}

// New initializes a logging backend. An empty file logs to stdout; disable
// drops everything.
func New(file, level string, disable bool) (*Backend, error) {
	b := &Backend{file: file, level: level, disable: disable}
	if err := b.open(); err != nil {
		return nil, err
	}
	return b, nil
}

// Log dispatches a record as per the logging.Backend interface.
func (b *Backend) Log(level logging.Level, calldepth int, record *logging.Record) error {
	b.RLock()
	defer b.RUnlock()
	return b.backend.Log(level, calldepth, record)
}

// GetLevel returns the logging level for the specified module.
func (b *Backend) GetLevel(module string) logging.Level {
	b.RLock()
	defer b.RUnlock()
	return b.backend.GetLevel(module)
}

// SetLevel sets the logging level for the specified module.
func (b *Backend) SetLevel(level logging.Level, module string) {
	b.RLock()
	defer b.RUnlock()
	b.backend.SetLevel(level, module)
}

// IsEnabledFor reports whether the module logs at the given level.
func (b *Backend) IsEnabledFor(level logging.Level, module string) bool {
	b.RLock()
	defer b.RUnlock()
	return b.backend.IsEnabledFor(level, module)
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b)
	return l
}

// Rotate reopens the log file for writing.
func (b *Backend) Rotate() error {
	b.Lock()
	defer b.Unlock()
	if err := b.w.Close(); err != nil {
		return err
	}
	return b.open()
}

func (b *Backend) open() error {
	lvl, err := logLevelFromString(b.level)
	if err != nil {
		return err
	}

	switch {
	case b.disable:
		b.w = discardCloser{}
	case b.file == "":
		b.w = os.Stdout
	default:
		flags := os.O_CREATE | os.O_APPEND | os.O_WRONLY
		if b.w, err = os.OpenFile(b.file, flags, 0o600); err != nil {
			return fmt.Errorf("log: failed to open log file: %v", err)
		}
	}

	base := logging.NewLogBackend(b.w, "", 0)
	formatted := logging.NewBackendFormatter(base, logging.MustStringFormatter(logFormat))
	b.backend = logging.AddModuleLevel(formatted)
	b.backend.SetLevel(lvl, "")
	return nil
}

func logLevelFromString(l string) (logging.Level, error) {
	switch strings.ToUpper(l) {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING":
		return logging.WARNING, nil
	case "NOTICE":
		return logging.NOTICE, nil
	case "INFO":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	default:
		return logging.CRITICAL, fmt.Errorf("log: invalid level: '%v'", l)
	}
}
