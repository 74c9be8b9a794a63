package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	With(args ...interface{}) Logger
	WithError(err error) Logger
}

type logger struct {
	*zap.SugaredLogger
}

func (l logger) With(args ...interface{}) Logger {
	return logger{l.SugaredLogger.With(args...)}
}

// WithError returns a logger that attaches the error message as an "error"
// field on every subsequent write.
func (l logger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.With("error", err.Error())
}

type NewInput struct {
	Name          string
	Level         zapcore.Level
	IsDevelopment bool
	InitialFields map[string]any
}

func New(input NewInput) Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktraces",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if input.IsDevelopment {
		// Development mode gets human-readable console output
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(input.Level))

	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(0))
	if input.Name != "" {
		zl = zl.Named(input.Name)
	}

	sugared := zl.Sugar()
	if len(input.InitialFields) > 0 {
		fields := make([]any, 0, 2*len(input.InitialFields))
		for k, v := range input.InitialFields {
			fields = append(fields, k, v)
		}
		sugared = sugared.With(fields...)
	}

	return logger{sugared}
}

// Nop returns a logger that discards everything. Useful as a default for
// components where logging is optional.
func Nop() Logger {
	return logger{zap.NewNop().Sugar()}
}
