package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Init configures the standard logrus logger. level comes from a flag; when
// empty LOG_LEVEL is consulted and then fallback.
func Init(level, fallback string) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}

	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logrus.SetLevel(ParseLevel(level, fallback))
}

// ParseLevel maps a level name, including the deployment aliases, to a
// logrus level. Unknown names yield fallback, and an unknown fallback yields
// error.
func ParseLevel(level, fallback string) logrus.Level {
	switch level {
	case "dev", "development":
		return logrus.DebugLevel
	case "production", "prod":
		return logrus.ErrorLevel
	}
	if l, err := logrus.ParseLevel(level); err == nil {
		return l
	}
	if level != fallback {
		return ParseLevel(fallback, fallback)
	}
	return logrus.ErrorLevel
}
