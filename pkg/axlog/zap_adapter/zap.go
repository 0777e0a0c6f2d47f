package zapadapter

import (
	"go.uber.org/zap"

	"github.com/QYUbit/axnet/pkg/axlog"
)

// Adapter exposes a zap logger as an axlog.Logger using the sugared API.
type Adapter struct {
	logger *zap.SugaredLogger
}

func New(logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{logger: logger.Sugar()}
}

func (a *Adapter) Info(msg string, keysAndValues ...any) {
	a.logger.Infow(msg, keysAndValues...)
}

func (a *Adapter) Error(msg string, keysAndValues ...any) {
	a.logger.Errorw(msg, keysAndValues...)
}

func (a *Adapter) Debug(msg string, keysAndValues ...any) {
	a.logger.Debugw(msg, keysAndValues...)
}

func (a *Adapter) Warn(msg string, keysAndValues ...any) {
	a.logger.Warnw(msg, keysAndValues...)
}

func (a *Adapter) With(keysAndValues ...any) axlog.Logger {
	return &Adapter{logger: a.logger.With(keysAndValues...)}
}
