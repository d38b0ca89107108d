package logger

import (
	"os"
	"strings"

	"library_notification_bot/internal/infra/config"

	"github.com/sirupsen/logrus"
)

// Log is the shared process-wide logger. Components derive their own
// entries from it via Get().WithField("component", ...).
var Log = logrus.New()

// Init configures level and format from the application config. An
// unparseable level falls back to info rather than failing startup.
func Init(cfg *config.AppConfig) {
	Log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		Log.Warnf("Unknown log level %q, using info: %v", cfg.LogLevel, err)
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)

	switch strings.ToLower(cfg.Environment) {
	case "production", "staging":
		Log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			ForceColors:     true,
		})
	}

	Log.Debugf("Logger ready: level=%s environment=%s", Log.GetLevel(), cfg.Environment)
}

// Get returns the configured global logger.
func Get() *logrus.Logger {
	return Log
}
