package obs

import (
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	loggerOnce sync.Once
	logger     *logrus.Logger
)

// Logger returns the shared structured logger used across the service. Every
// entry is a single JSON object with ts, level and msg keys.
func Logger() *logrus.Logger {
	loggerOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "ts",
			},
		})
	})
	return logger
}

// SetLevel parses and applies a level name; unknown names keep the current level.
func SetLevel(name string) {
	if lvl, err := logrus.ParseLevel(name); err == nil {
		Logger().SetLevel(lvl)
	}
}

// LogRequest emits a structured request entry.
func LogRequest(msg string, fields map[string]any) {
	Logger().WithFields(logrus.Fields(fields)).Info(msg)
}
