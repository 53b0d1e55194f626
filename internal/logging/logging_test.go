package logging_test

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/omochice/toy-chat-client/internal/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw    string
		want   logrus.Level
		wantOK bool
	}{
		{"", logrus.InfoLevel, false},
		{"trace", logrus.TraceLevel, true},
		{" DEBUG ", logrus.DebugLevel, true},
		{"info", logrus.InfoLevel, true},
		{"warning", logrus.WarnLevel, true},
		{"error", logrus.ErrorLevel, true},
		{"fatal", logrus.FatalLevel, true},
		{"panic", logrus.PanicLevel, true},
		{"off", logrus.PanicLevel, true},
		{"Disabled", logrus.PanicLevel, true},
		{"loud", logrus.InfoLevel, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := logging.ParseLevel(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestConfigure(t *testing.T) {
	defer logging.Configure("info", &bytes.Buffer{})

	t.Setenv(logging.EnvLogLevel, "")

	var buf bytes.Buffer
	logging.Configure("warn", &buf)

	logrus.Info("hidden")
	logrus.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestConfigure_EnvOverride(t *testing.T) {
	defer logging.Configure("info", &bytes.Buffer{})

	t.Setenv(logging.EnvLogLevel, "debug")

	var buf bytes.Buffer
	logging.Configure("error", &buf)

	logrus.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
