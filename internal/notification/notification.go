// Package notification delivers best-effort alerts. Delivery failures are
// logged and dropped; they never fail the caller.
package notification

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sink is a single delivery channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, subject, body string) error
}

// Notifier fans an alert out to every configured sink.
type Notifier struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
}

// NewNotifier creates a Notifier. A zero timeout leaves sends bounded only by
// the caller's context.
func NewNotifier(logger *zap.Logger, timeout time.Duration, sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks, timeout: timeout, logger: logger}
}

// Notify sends subject and body to every sink and swallows their errors.
func (n *Notifier) Notify(ctx context.Context, subject, body string) {
	if n == nil {
		return
	}
	for _, s := range n.sinks {
		sendCtx, cancel := ctx, context.CancelFunc(func() {})
		if n.timeout > 0 {
			sendCtx, cancel = context.WithTimeout(ctx, n.timeout)
		}
		if err := s.Send(sendCtx, subject, body); err != nil {
			n.logger.Error("notification delivery failed",
				zap.String("sink", s.Name()),
				zap.String("subject", subject),
				zap.Error(err))
		}
		cancel()
	}
}

// LogSink writes alerts to the application log. It is always enabled so a
// terminal stop is visible even without any external channel.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, subject, body string) error {
	s.logger.Warn("NOTIFY "+subject, zap.String("body", body))
	return nil
}
