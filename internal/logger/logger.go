// Package logger configures the application logger. Every entry passes
// through a redaction hook so key material can never reach log output.
package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config contains logger configuration.
type Config struct {
	Level  string
	Format string // "json" or "text"
}

// New creates a configured logger with secret redaction installed.
func New(config Config) (*logrus.Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	switch strings.ToLower(config.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
			DisableQuote:    true,
		})
	default:
		log.SetFormatter(&CustomFormatter{})
	}

	log.AddHook(NewRedactionHook())
	return log, nil
}

// CustomFormatter provides a clean, timestamped format for console output.
type CustomFormatter struct{}

func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("2006-01-02 15:04:05.000")
	level := strings.ToUpper(entry.Level.String())

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", timestamp, level, entry.Message)
	for key, value := range entry.Data {
		fmt.Fprintf(&b, " %s=%v", key, value)
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
