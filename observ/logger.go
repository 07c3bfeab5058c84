package observ

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the core's logger from the env name and a level string.
//
// production → JSON output, info-and-up (machines read it).
// anything else → console output with colors (humans read it).
// An unparseable level falls back to info rather than failing the session:
// a typo'd LOG_LEVEL should never keep the chat surface from coming up.
func NewLogger(env, level string) (*zap.Logger, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	// The core runs embedded in a host application; stacktraces on warns
	// are the host's noise budget, not ours.
	config.DisableStacktrace = true

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("chatlink"), nil
}

// Nop returns a logger that discards everything. Tests that don't assert
// on log output pass this instead of threading a real logger through.
func Nop() *zap.Logger {
	return zap.NewNop()
}
