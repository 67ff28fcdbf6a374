package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// InitLogger sets the level of the shared logger. It may be called more than once; the last call wins.
func InitLogger(level logrus.Level) {
	GetLogger().SetLevel(level)
}

// GetLogger returns the process-wide logger, creating it on first use.
func GetLogger() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		logger.SetLevel(logrus.InfoLevel)
	})
	return logger
}
