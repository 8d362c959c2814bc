// Package lifecycle tracks connection-owning resources (tool providers,
// clients) and releases them together at shutdown.
//
// Managers are intended to be owned per pipeline build: the builder registers
// every provider it constructs and the application defers ReleaseAll. An
// application that instead shares providers across requests must defer
// ReleaseAll to process shutdown — releasing while a run is in flight closes
// connections out from under it.
package lifecycle

import (
	"errors"
	"io"
	"sync"

	"github.com/agentpipe/agentpipe/logging"
)

// Manager collects io.Closer handles and releases them exactly once.
type Manager struct {
	mu         sync.Mutex
	closers    []io.Closer
	released   bool
	once       sync.Once
	releaseErr error
	logger     logging.Logger
}

// Options configure a Manager.
type Options struct {
	// Logger receives release telemetry. Defaults to NoOpLogger.
	Logger logging.Logger
}

// NewManager creates an empty Manager.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{logger: opts.Logger}
}

// Register adds a handle to be released. Safe for concurrent use. Registering
// after ReleaseAll has run closes the handle immediately so nothing leaks.
func (m *Manager) Register(c io.Closer) {
	if c == nil {
		return
	}

	m.mu.Lock()
	if !m.released {
		m.closers = append(m.closers, c)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := c.Close(); err != nil {
		m.logger.Warn("lifecycle.late_register_close", "error", err)
	}
}

// ReleaseAll closes every registered handle in reverse registration order,
// aggregating individual failures with errors.Join so one failing close never
// blocks the rest. It executes exactly once; later calls return the first
// run's result. Cleanup failures are returned, never panicked, so they cannot
// mask a primary run error the caller handles separately.
func (m *Manager) ReleaseAll() error {
	m.once.Do(func() {
		m.mu.Lock()
		closers := m.closers
		m.closers = nil
		m.released = true
		m.mu.Unlock()

		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				m.logger.Warn("lifecycle.release_failed", "error", err)
				errs = append(errs, err)
			}
		}
		m.releaseErr = errors.Join(errs...)

		m.logger.Debug("lifecycle.released", "handles", len(closers))
	})
	return m.releaseErr
}
