// Package log wires the process-wide structured logger: JSON output,
// rotated through lumberjack, duplicated to stderr for warnings and above.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFilename   = "proxy.log"
	logMaxSizeMB  = 10
	logMaxBackups = 5
	logMaxAgeDays = 28
)

var base = newLogger()

// L returns the process-wide sugared logger.
func L() *zap.SugaredLogger {
	return base
}

// With returns a derived logger carrying the given structured fields,
// mirroring the donor's per-connection/per-request logger pattern.
func With(fields ...any) *zap.SugaredLogger {
	return base.With(fields...)
}

// Sync flushes any buffered log entries; callers should defer this at
// process shutdown.
func Sync() {
	_ = base.Sync()
}

func newLogger() *zap.SugaredLogger {
	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logFilename,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
		Compress:   true,
	})

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	fileCore := zapcore.NewCore(encoder, fileWriter, zapcore.DebugLevel)
	stderrCore := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), zapcore.WarnLevel)

	core := zapcore.NewTee(fileCore, stderrCore)

	return zap.New(core, zap.AddCaller()).Sugar()
}
