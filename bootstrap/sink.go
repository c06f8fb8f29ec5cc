package bootstrap

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bootstrap/errors"
)

// Sink receives bootstrap diagnostics. Report is called at most once per
// run and never on success.
type Sink interface {
	Report(err *errors.Error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(err *errors.Error)

func (f SinkFunc) Report(err *errors.Error) { f(err) }

// LogSink writes diagnostics to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink logging to logger. A nil logger is replaced by
// a no-op logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Report(err *errors.Error) {
	if err == nil {
		return
	}
	if err.Kind == errors.KindMissingLoader {
		s.logger.Error(err.Detail, zap.String("phase", string(err.Phase)))
		return
	}

	fields := []zap.Field{
		zap.String("phase", string(err.Phase)),
		zap.String("kind", string(err.Kind)),
	}
	if err.Location != "" {
		fields = append(fields, zap.String("location", err.Location))
	}
	if err.Export != "" {
		fields = append(fields, zap.String("export", err.Export))
	}
	if err.Value != nil {
		fields = append(fields, zap.Any("value", err.Value))
	}
	fields = append(fields, zap.Error(err))
	s.logger.Error("wasm bootstrap failed", fields...)
}

// Recorder is a Sink that keeps every report. It is safe for concurrent use.
type Recorder struct {
	reports []*errors.Error
	mu      sync.Mutex
}

func (r *Recorder) Report(err *errors.Error) {
	r.mu.Lock()
	r.reports = append(r.reports, err)
	r.mu.Unlock()
}

// Reports returns a copy of the recorded diagnostics.
func (r *Recorder) Reports() []*errors.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*errors.Error, len(r.reports))
	copy(out, r.reports)
	return out
}
