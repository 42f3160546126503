package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level, fallback string
		want            logrus.Level
	}{
		{"debug", "info", logrus.DebugLevel},
		{"dev", "info", logrus.DebugLevel},
		{"warn", "info", logrus.WarnLevel},
		{"prod", "info", logrus.ErrorLevel},
		{"", "info", logrus.InfoLevel},
		{"loud", "error", logrus.ErrorLevel},
		{"", "", logrus.ErrorLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.level, tt.fallback), "%q/%q", tt.level, tt.fallback)
	}
}

func TestInitPrefersArgument(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	defer logrus.SetLevel(logrus.InfoLevel)

	Init("warn", "info")
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())

	Init("", "info")
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}
