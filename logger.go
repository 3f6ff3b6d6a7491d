package flowsentry

import (
	"github.com/oarkflow/log"
)

// NewConsoleLogger builds a human-readable logger for interactive runs.
func NewConsoleLogger(level string) *log.Logger {
	return &log.Logger{
		Level:      log.ParseLevel(level),
		TimeFormat: "15:04:05",
		Writer: &log.ConsoleWriter{
			ColorOutput:    true,
			EndWithMessage: true,
		},
	}
}

// NewFileLogger builds a JSON logger writing to filename. The returned rotate
// function is what analyzers run on a rotate command.
func NewFileLogger(level, filename string) (*log.Logger, func() error) {
	writer := &log.FileWriter{
		Filename:  filename,
		LocalTime: true,
	}
	logger := &log.Logger{
		Level:  log.ParseLevel(level),
		Writer: writer,
	}
	return logger, writer.Rotate
}
