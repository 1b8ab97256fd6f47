package probe

import (
	"context"
	"time"

	"github.com/slok/fixturebox/internal/log"
)

// DefaultTimeout is the default maximum time of a single probe attempt.
const DefaultTimeout = 500 * time.Millisecond

// Func is a single protocol level check against a service.
type Func func(ctx context.Context) error

// Check runs a probe bounded by timeout and returns true when the probe succeeds.
// Probe errors are never returned, they are only logged at debug level, a
// service that can't be reached is just not ready yet.
func Check(ctx context.Context, logger log.Logger, timeout time.Duration, probe Func) bool {
	if logger == nil {
		logger = log.Noop
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := probe(ctx); err != nil {
		logger.Debugf("Service not ready: %v", err)
		return false
	}

	return true
}
