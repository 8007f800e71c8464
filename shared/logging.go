package shared

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// ConfigureLogging applies the level and formatter for the standard logrus logger.
func ConfigureLogging(level, format string) {
	logrus.SetOutput(os.Stdout)

	switch strings.ToLower(format) {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warnf("Invalid LOG_LEVEL value: %s, using info", level)
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}
