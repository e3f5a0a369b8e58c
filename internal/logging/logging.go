// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Options selects the log output.
type Options struct {
	Level   string
	Verbose bool
	JSON    bool
	Output  io.Writer
}

// Setup applies opts to the standard logger. Verbose forces debug level and
// reports the calling function.
func Setup(opts Options) error {
	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
		level = parsed
	}
	if opts.Verbose {
		level = log.DebugLevel
	}

	log.SetLevel(level)
	log.SetReportCaller(opts.Verbose)
	if opts.Output != nil {
		log.SetOutput(opts.Output)
	}
	if opts.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05",
		})
	}
	return nil
}
