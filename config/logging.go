package config

import (
	"go.uber.org/zap"
)

// setLogger picks the zap preset for the given environment. Unknown
// environments get the production logger.
func setLogger(env string) (*zap.Logger, error) {
	switch env {
	case "local":
		return zap.NewExample(), nil
	case "development":
		return zap.NewDevelopment()
	default:
		return zap.NewProduction()
	}
}
