// Package observability builds the process logger from configuration.
package observability

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/QYUbit/axnet/pkg/config"
)

// SetupLogger builds a zap.Logger from c. Outputs are "stdout", "stderr" or
// file paths; files rotate through lumberjack when rotation is enabled.
// Outputs naming the same destination share one sink. The returned close
// function releases the opened files; call logger.Sync() before it.
func SetupLogger(c config.LogConfig) (*zap.Logger, func() error, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}

	encCfg := encoderConfig(c.Development)
	var encoder zapcore.Encoder
	if strings.EqualFold(c.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	sinks := newSinkSet(c.Rotation)
	cores := make([]zapcore.Core, 0, len(outputs))
	for _, out := range outputs {
		ws, created, err := sinks.open(out)
		if err != nil {
			_ = sinks.close()
			return nil, nil, err
		}
		if created {
			cores = append(cores, zapcore.NewCore(encoder, ws, level))
		}
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)}
	if c.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), sinks.close, nil
}

func parseLevel(s string) (zap.AtomicLevel, error) {
	if strings.TrimSpace(s) == "" {
		return zap.NewAtomicLevelAt(zap.InfoLevel), nil
	}
	if strings.EqualFold(s, "warning") {
		s = "warn"
	}
	level, err := zap.ParseAtomicLevel(strings.ToLower(s))
	if err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// sinkSet opens every log destination once.
type sinkSet struct {
	rotation config.RotationConfig
	opened   map[string]zapcore.WriteSyncer
	closers  []io.Closer
}

func newSinkSet(r config.RotationConfig) *sinkSet {
	return &sinkSet{rotation: r, opened: make(map[string]zapcore.WriteSyncer)}
}

// open returns the sink for out. created is false when the destination was
// already opened for an earlier output.
func (s *sinkSet) open(out string) (ws zapcore.WriteSyncer, created bool, err error) {
	key := s.destination(out)
	if ws, ok := s.opened[key]; ok {
		return ws, false, nil
	}

	switch key {
	case "stdout":
		ws = zapcore.Lock(os.Stdout)
	case "stderr":
		ws = zapcore.Lock(os.Stderr)
	default:
		ws, err = s.openFile(key)
		if err != nil {
			return nil, false, err
		}
	}

	s.opened[key] = ws
	return ws, true, nil
}

func (s *sinkSet) destination(out string) string {
	switch lower := strings.ToLower(out); lower {
	case "stdout", "stderr":
		return lower
	}
	if s.rotation.Enable && strings.TrimSpace(s.rotation.Filename) != "" {
		return filepath.Clean(s.rotation.Filename)
	}
	return filepath.Clean(out)
}

func (s *sinkSet) openFile(path string) (zapcore.WriteSyncer, error) {
	if s.rotation.Enable {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    max(s.rotation.MaxSizeMB, 10),
			MaxBackups: max(s.rotation.MaxBackups, 1),
			MaxAge:     max(s.rotation.MaxAgeDays, 7),
			Compress:   s.rotation.Compress,
		}
		s.closers = append(s.closers, lj)
		return zapcore.AddSync(lj), nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, f)
	return zapcore.Lock(f), nil
}

func (s *sinkSet) close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func encoderConfig(dev bool) zapcore.EncoderConfig {
	if dev {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg
	}
	return zap.NewProductionEncoderConfig()
}
