// Package logging configures the process-wide structured logger.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Init sets the global logrus configuration: JSON output on stdout with
// stable field names. Unknown levels fall back to info.
func Init(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logrus.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}

// Component returns a logger entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
