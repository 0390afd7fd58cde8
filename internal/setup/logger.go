package setup

import (
	"log/slog"
	"sync/atomic"

	"github.com/cochaviz/uli/internal/logging"
)

var packageLogger atomic.Pointer[slog.Logger]

// SetLogger sets the logger preflight checks report through. Nil restores
// the process default.
func SetLogger(logger *slog.Logger) {
	packageLogger.Store(logger)
}

func getLogger() *slog.Logger {
	return logging.Ensure(packageLogger.Load())
}
