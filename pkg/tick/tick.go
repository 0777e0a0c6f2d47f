// Package tick runs the per-tick phases a messaging backend and the
// application share: ingest, update and flush, always in that order and on
// a single goroutine.
package tick

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/QYUbit/axnet/pkg/axlog"
)

var ErrInvalidInterval = errors.New("tick interval must be positive")

type Phase int

const (
	// Ingest is where backends apply status changes and received messages.
	Ingest Phase = iota
	// Update is where application and replication logic send and receive.
	Update
	// Flush is where backends drain sent messages onto the wire.
	Flush

	phaseCount
)

func (p Phase) String() string {
	switch p {
	case Ingest:
		return "ingest"
	case Update:
		return "update"
	case Flush:
		return "flush"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Context is handed to every system.
type Context struct {
	Tick uint64
	Dt   time.Duration
}

type SystemFunc func(ctx Context)

type System interface {
	Run(ctx Context)
}

// Loop runs registered systems phase by phase.
type Loop struct {
	interval time.Duration
	logger   axlog.Logger

	systems [phaseCount][]SystemFunc
	tick    uint64
}

type Option func(*Loop)

func WithLogger(logger axlog.Logger) Option {
	return func(l *Loop) {
		l.logger = axlog.OrNop(logger)
	}
}

// WithRate sets the interval from a tick rate in Hz.
func WithRate(hz int) Option {
	return func(l *Loop) {
		if hz > 0 {
			l.interval = time.Second / time.Duration(hz)
		}
	}
}

func New(interval time.Duration, opts ...Option) *Loop {
	l := &Loop{
		interval: interval,
		logger:   axlog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Tick returns the number of completed steps.
func (l *Loop) Tick() uint64 {
	return l.tick
}

// AddSystemFunc registers fn in a phase. Systems of a phase run in
// registration order.
func (l *Loop) AddSystemFunc(phase Phase, fn SystemFunc) {
	if phase < 0 || phase >= phaseCount {
		panic(fmt.Sprintf("tick: invalid phase %d", phase))
	}
	l.systems[phase] = append(l.systems[phase], fn)
}

func (l *Loop) AddSystem(phase Phase, sys System) {
	l.AddSystemFunc(phase, sys.Run)
}

// Step runs one tick.
func (l *Loop) Step(dt time.Duration) {
	ctx := Context{Tick: l.tick, Dt: dt}
	for phase := Ingest; phase < phaseCount; phase++ {
		for _, fn := range l.systems[phase] {
			fn(ctx)
		}
	}
	l.tick++
}

// Run steps the loop every interval until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if l.interval <= 0 {
		return ErrInvalidInterval
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("tick loop started", "interval", l.interval)
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("tick loop stopped", "ticks", l.tick)
			return ctx.Err()
		case now := <-ticker.C:
			l.Step(now.Sub(last))
			last = now
		}
	}
}
