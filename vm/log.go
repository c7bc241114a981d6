package vm

import "go.uber.org/zap"

// NewLogger builds the structured logger every VM optionally traces
// through. debugMode selects zap's human-friendly development encoder
// (console output with level and caller, Debug and above); otherwise a quiet
// production JSON logger at Warn and above. Stack traces are disabled in
// both modes.
func NewLogger(debugMode bool) (*zap.Logger, error) {
	if debugMode {
		cfg := zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}
