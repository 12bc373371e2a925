// Package logger owns the process-wide zap logger. Engine packages obtain
// component-scoped loggers from it instead of wiring zap themselves.
package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu   sync.RWMutex
	root *zap.Logger = zap.NewNop()
)

// Init builds the process logger. Development selects the human-readable
// console encoder. Safe to call once at startup; later calls replace the
// root logger.
func Init(development bool) error {
	var (
		l   *zap.Logger
		err error
	)
	if development {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	mu.Lock()
	root = l
	mu.Unlock()
	return nil
}

// L returns a logger tagged with the given component name.
func L(component string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With(zap.String("component", component))
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
