package common

import "go.uber.org/zap"

// NewLogger builds the production structured logger used throughout the
// engine. Callers that do not care about logging can set Config.Logger to
// zap.NewNop().Sugar() instead.
func NewLogger() *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		// Fall back to a no-op logger rather than failing database open
		// over a logging misconfiguration.
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}
