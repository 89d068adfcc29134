// Package logging configures the shared logrus logger and provides Gin
// middleware for HTTP request logging and panic recovery.
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupBaseLogger applies the baseline logger configuration used before the
// config file has been read: text formatter with full timestamps, info level,
// stderr output.
func SetupBaseLogger() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetLevel(log.InfoLevel)
	log.SetOutput(os.Stderr)
}

// ConfigureLogging applies the runtime logging configuration. Debug switches
// to debug level; logFile, when set, mirrors output into a size-rotated file.
func ConfigureLogging(debug bool, logFile string) {
	if debug {
		log.SetLevel(log.DebugLevel)
	}
	if logFile == "" {
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	log.WithField("file", logFile).Info("file logging enabled")
}
