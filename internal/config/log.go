package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger from the log settings. Output goes to
// out; the server passes stderr because stdout carries the MCP transport.
func (c *Config) NewLogger(out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	if strings.EqualFold(c.Log.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
