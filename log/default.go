package log

import (
	"sync"

	"go.uber.org/zap/zapcore"
)

var (
	defaultLogger     Logger
	defaultLoggerLock sync.Mutex
)

func init() {
	defaultLogger = New(NewInput{
		Level: zapcore.InfoLevel,
	})
}

// Default returns the process-wide default logger.
func Default() Logger {
	defaultLoggerLock.Lock()
	defer defaultLoggerLock.Unlock()
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l Logger) {
	defaultLoggerLock.Lock()
	defer defaultLoggerLock.Unlock()
	defaultLogger = l
}

func Debugf(template string, args ...interface{}) { Default().Debugf(template, args...) }
func Infof(template string, args ...interface{})  { Default().Infof(template, args...) }
func Warnf(template string, args ...interface{})  { Default().Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { Default().Errorf(template, args...) }

func Debugw(msg string, keysAndValues ...interface{}) { Default().Debugw(msg, keysAndValues...) }
func Infow(msg string, keysAndValues ...interface{})  { Default().Infow(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...interface{})  { Default().Warnw(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...interface{}) { Default().Errorw(msg, keysAndValues...) }

// With returns the default logger sweetened with the given fields.
func With(args ...interface{}) Logger { return Default().With(args...) }
