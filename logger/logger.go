// Package logger provides the shared zap logger for long-trader.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global logger instance. Components derive named
	// sub-loggers from it: logger.Logger.Named("executor").
	Logger *zap.SugaredLogger
	// JSONOutput tracks whether JSON output is enabled
	JSONOutput bool
)

func init() {
	// Safe no-op logger at package load time so the logger can be used
	// before Initialize() is called
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger.
// When jsonOutput is true, logs are machine-readable JSON lines; otherwise a
// human-readable console encoder is used.
func Initialize(jsonOutput bool) error {
	JSONOutput = jsonOutput

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if jsonOutput {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), levelFromEnv())
	Logger = zap.New(core, zap.AddCaller()).Sugar()
	return nil
}

// levelFromEnv reads LONGTRADER_LOG_LEVEL, defaulting to info.
func levelFromEnv() zapcore.Level {
	switch strings.ToLower(os.Getenv("LONGTRADER_LOG_LEVEL")) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sync flushes any buffered log entries. Call on shutdown.
func Sync() {
	_ = Logger.Sync()
}
