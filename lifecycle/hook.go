// Package lifecycle provides the host's single-shot load event.
//
// Handlers registered with OnLoad run once, in registration order, the
// first time Fire is called. Later calls to Fire do nothing, and
// registering after the event has fired is an error, mirroring a document
// load event that has already completed.
package lifecycle

import (
	"context"
	stderrors "errors"
	"sync"

	"go.uber.org/zap"
)

// ErrAlreadyFired is returned by OnLoad once the event has fired.
var ErrAlreadyFired = stderrors.New("lifecycle: load event already fired")

// Handler reacts to the load event. It must not block for long; handlers
// that start asynchronous work should return once it is scheduled.
type Handler func(ctx context.Context)

type entry struct {
	fn   Handler
	name string
}

// Hook is a single-shot load event. The zero value is not usable; call New.
type Hook struct {
	logger   *zap.Logger
	handlers []entry
	mu       sync.Mutex
	fired    bool
}

// New creates a hook. A nil logger disables logging.
func New(logger *zap.Logger) *Hook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hook{logger: logger}
}

// OnLoad registers fn under name.
func (h *Hook) OnLoad(name string, fn Handler) error {
	if fn == nil {
		return stderrors.New("lifecycle: nil handler")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fired {
		return ErrAlreadyFired
	}
	h.handlers = append(h.handlers, entry{name: name, fn: fn})
	return nil
}

// Fire runs every registered handler once. It reports whether this call
// fired the event; concurrent or repeated calls return false.
func (h *Hook) Fire(ctx context.Context) bool {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		return false
	}
	h.fired = true
	handlers := h.handlers
	h.handlers = nil
	h.mu.Unlock()

	h.logger.Debug("load event fired", zap.Int("handlers", len(handlers)))
	for _, e := range handlers {
		h.run(ctx, e)
	}
	return true
}

// Fired reports whether the event has fired.
func (h *Hook) Fired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fired
}

// run isolates handlers from each other; a panicking handler is logged and
// the remaining handlers still run.
func (h *Hook) run(ctx context.Context, e entry) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("load handler panicked",
				zap.String("handler", e.name),
				zap.Any("panic", r))
		}
	}()
	e.fn(ctx)
}
