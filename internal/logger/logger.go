package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger = zap.NewNop()

// Init builds the process-wide logger for the named service.
// Valid levels: debug, info, warn, error, fatal, panic; anything else means info.
func Init(logLevel, service string) error {
	logLevel = strings.ToLower(strings.TrimSpace(logLevel))
	if logLevel == "" {
		logLevel = "info"
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = zapcore.InfoLevel
	}

	// Structured JSON unless debugging locally
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.StacktraceKey = "stacktrace"

	if level == zapcore.DebugLevel {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	built, err := config.Build(zap.Fields(zap.String("service", service)))
	if err != nil {
		return err
	}
	Logger = built
	return nil
}

// Sync flushes any buffered log entries
func Sync() {
	_ = Logger.Sync()
}

func Info(msg string, fields ...zap.Field) {
	Logger.Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	Logger.Error(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Logger.Warn(msg, fields...)
}

// Fatal logs and exits the process
func Fatal(msg string, fields ...zap.Field) {
	Logger.Fatal(msg, fields...)
}
