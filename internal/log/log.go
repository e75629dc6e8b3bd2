package log

import (
	"os"

	"go.uber.org/zap"
)

type Logger struct {
	*zap.SugaredLogger
}

// NewLogger builds the process logger: JSON production output by default,
// console output when APP_ENV=development.
func NewLogger() *Logger {
	var cfg zap.Config
	if os.Getenv("APP_ENV") == "development" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return &Logger{logger.Sugar()}
}
