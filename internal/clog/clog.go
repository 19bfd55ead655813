// Package clog adapts the teacher's logger.Logger shape (a tiny
// message-plus-tags interface, see logger/logger.go) to a
// zap.SugaredLogger backend, per SPEC_FULL.md's ambient logging
// section.
package clog

import "go.uber.org/zap"

// Logger is the logging surface the rest of this repository depends
// on -- identical in shape to the teacher's logger.Logger so call
// sites read the same way.
type Logger interface {
	Debug(msg string, tags ...interface{})
	Info(msg string, tags ...interface{})
	Warn(msg string, tags ...interface{})
	Error(msg string, tags ...interface{})
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New wraps a production zap logger. Callers that don't need logging
// can leave Cache's Logger unset; Nop() is used in that case.
func New() (Logger, error) {
	base, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: base.Sugar()}, nil
}

// Nop returns a Logger that discards everything, the zero-configuration
// default (spec §9 "Global state: there is none" -- a cache never
// requires a logger to be configured).
func Nop() Logger { return nopLogger{} }

func (l *zapLogger) Debug(msg string, tags ...interface{}) { l.s.Debugw(msg, tags...) }
func (l *zapLogger) Info(msg string, tags ...interface{})  { l.s.Infow(msg, tags...) }
func (l *zapLogger) Warn(msg string, tags ...interface{})  { l.s.Warnw(msg, tags...) }
func (l *zapLogger) Error(msg string, tags ...interface{}) { l.s.Errorw(msg, tags...) }

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
