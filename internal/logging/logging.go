// Package logging builds the process logger.
package logging

import (
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Debug bool
	// File, when set, receives a JSON copy of every entry and is rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a development logger when Debug is set and a production one otherwise.
// The returned close func flushes the logger and releases the log file; call it on exit.
func New(opts Options) (*zap.Logger, func() error, error) {
	var (
		base *zap.Logger
		err  error
	)
	if opts.Debug {
		base, err = zap.NewDevelopment()
	} else {
		base, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("can't initialize zap logger: %w", err)
	}
	if opts.File == "" {
		return base, func() error { return syncErr(base.Sync()) }, nil
	}

	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}
	rot := rotator(opts)
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(rot),
		level,
	)
	l := base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	closeFn := func() error {
		err := syncErr(l.Sync())
		if cerr := rot.Close(); cerr != nil && err == nil {
			err = cerr
		}
		return err
	}
	return l, closeFn, nil
}

// syncErr drops the EINVAL/ENOTTY that Sync reports for stderr on terminals and pipes.
func syncErr(err error) error {
	if err == nil || errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}

func rotator(opts Options) *lumberjack.Logger {
	l := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	if l.MaxSize <= 0 {
		l.MaxSize = 100
	}
	return l
}
