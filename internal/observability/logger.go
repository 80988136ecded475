// Package observability wraps zap behind the narrow logging surface the
// rest of the service depends on, so call sites never import zap directly.
package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging contract every component is constructed with.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	Warn(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
	Debugw(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
	// With returns a Logger with the given key/value pairs attached to
	// every subsequent entry, used to tag a logger with session/role
	// context once instead of repeating it on every call.
	With(kv ...interface{}) Logger
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// Option configures logger construction.
type Option func(*options)

type options struct {
	level    string
	filePath string
}

// WithLevel sets the minimum enabled level ("debug", "info", "warn", "error").
func WithLevel(level string) Option {
	return func(o *options) { o.level = level }
}

// WithFile adds a rotating file sink alongside stderr.
func WithFile(path string) Option {
	return func(o *options) { o.filePath = path }
}

// New builds a production-shaped zap logger: JSON encoding, ISO8601
// timestamps, stack traces on error level and above.
func New(serviceName string, opts ...Option) Logger {
	o := &options{level: "info"}
	for _, opt := range opts {
		opt(o)
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(o.level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(os.Stderr), lvl),
	}
	if o.filePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   o.filePath,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotator), lvl))
	}

	core := zapcore.NewTee(cores...)
	base := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).
		With(zap.String("service", serviceName))

	return &zapLogger{sugar: base.Sugar()}
}

func (l *zapLogger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }
func (l *zapLogger) Fatalf(format string, args ...interface{}) { l.sugar.Fatalf(format, args...) }
func (l *zapLogger) Warn(msg string, kv ...interface{})        { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Info(msg string, kv ...interface{})        { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Error(msg string, kv ...interface{})       { l.sugar.Errorw(msg, kv...) }
func (l *zapLogger) Debugw(msg string, kv ...interface{})      { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})       { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{})      { l.sugar.Errorw(msg, kv...) }

func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(kv...)}
}
