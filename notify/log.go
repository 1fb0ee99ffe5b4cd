package notify

import (
	"context"

	accounts "github.com/lungvision/go-accounts"
)

// LogMailer writes notifications to the logger instead of sending them.
// Useful in development.
type LogMailer struct {
	renderer *Renderer
	logger   accounts.Logger
}

var _ accounts.Notifier = (*LogMailer)(nil)

func NewLogMailer(logger accounts.Logger) *LogMailer {
	if logger == nil {
		logger = nopLogger{}
	}
	return &LogMailer{
		renderer: NewRenderer(),
		logger:   logger,
	}
}

func (l *LogMailer) Send(ctx context.Context, n accounts.Notification) error {
	rendered, err := l.renderer.Render(n)
	if err != nil {
		return err
	}
	l.logger.Info("email",
		"to", n.To,
		"subject", rendered.Subject,
		"body", rendered.Text,
	)
	return nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
