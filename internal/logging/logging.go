// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// EnvLogLevel overrides the configured level when set.
const EnvLogLevel = "CHAT_LOG_LEVEL"

// Configure sets the level, output and format of the standard logger.
// An unparseable level falls back to info.
func Configure(level string, out io.Writer) {
	if v, ok := os.LookupEnv(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		level = v
	}

	lvl, ok := ParseLevel(level)
	if !ok {
		lvl = logrus.InfoLevel
	}

	logger := logrus.StandardLogger()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
}

// ParseLevel maps a level name to a logrus level. "off" and its aliases
// silence everything but panics.
func ParseLevel(raw string) (logrus.Level, bool) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "off", "none", "disabled":
		return logrus.PanicLevel, true
	}

	lvl, err := logrus.ParseLevel(raw)
	if err != nil {
		return logrus.InfoLevel, false
	}
	return lvl, true
}
