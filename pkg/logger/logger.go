package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger представляет интерфейс для логирования
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	Named(name string) Logger
	Sync() error
}

// Field представляет поле лога
type Field struct {
	zap.Field
}

// Options параметры создания логгера
type Options struct {
	// Environment окружение (dev, staging, prod); в dev используется консольный энкодер
	Environment string
	// Level уровень логирования (debug, info, warn, error)
	Level string
	// Service имя сервиса, добавляется ко всем записям
	Service string
}

// zapLogger реализация логгера на основе zap
type zapLogger struct {
	l *zap.Logger
}

// New создает новый логгер с заданными параметрами
func New(opts Options) (Logger, error) {
	var zapLevel zapcore.Level
	switch opts.Level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	var encoder zapcore.Encoder
	if opts.Environment == "dev" {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "time"
		encoderConfig.MessageKey = "msg"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoderConfig.EncodeDuration = zapcore.SecondsDurationEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.AddSync(os.Stdout),
		zap.NewAtomicLevelAt(zapLevel),
	)

	l := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)).With(
		zap.String("service", opts.Service),
		zap.String("environment", opts.Environment),
	)

	return &zapLogger{l: l}, nil
}

// NewNop создает логгер, отбрасывающий все записи; используется в тестах
func NewNop() Logger {
	return &zapLogger{l: zap.NewNop()}
}

// Debug записывает отладочное сообщение
func (z *zapLogger) Debug(msg string, fields ...Field) {
	z.l.Debug(msg, unwrap(fields)...)
}

// Info записывает информационное сообщение
func (z *zapLogger) Info(msg string, fields ...Field) {
	z.l.Info(msg, unwrap(fields)...)
}

// Warn записывает предупреждение
func (z *zapLogger) Warn(msg string, fields ...Field) {
	z.l.Warn(msg, unwrap(fields)...)
}

// Error записывает ошибку
func (z *zapLogger) Error(msg string, fields ...Field) {
	z.l.Error(msg, unwrap(fields)...)
}

// With добавляет поля и возвращает новый логгер
func (z *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{l: z.l.With(unwrap(fields)...)}
}

// Named добавляет имя компонента и возвращает новый логгер
func (z *zapLogger) Named(name string) Logger {
	return &zapLogger{l: z.l.Named(name)}
}

// Sync сбрасывает буферы логгера
func (z *zapLogger) Sync() error {
	return z.l.Sync()
}

func unwrap(fields []Field) []zap.Field {
	zapFields := make([]zap.Field, len(fields))
	for i, field := range fields {
		zapFields[i] = field.Field
	}
	return zapFields
}

// String создает поле со строковым значением
func String(key, val string) Field {
	return Field{zap.String(key, val)}
}

// Int создает поле с целочисленным значением
func Int(key string, val int) Field {
	return Field{zap.Int(key, val)}
}

// Int64 создает поле с целочисленным значением типа int64
func Int64(key string, val int64) Field {
	return Field{zap.Int64(key, val)}
}

// Bool создает поле с булевым значением
func Bool(key string, val bool) Field {
	return Field{zap.Bool(key, val)}
}

// Error создает поле с ошибкой
func Error(err error) Field {
	return Field{zap.Error(err)}
}

// Any создает поле с любым значением
func Any(key string, val interface{}) Field {
	return Field{zap.Any(key, val)}
}
