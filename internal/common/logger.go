package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"
)

const (
	logFileName       = "koscout.log"
	logFileMaxSize    = 100 * 1024 * 1024
	logFileMaxBackups = 3
	defaultTimeFormat = "15:04:05"
)

// LogsDir is the directory for koscout.log and crash reports, next to the
// executable. Falls back to ./logs.
func LogsDir() string {
	execPath, err := os.Executable()
	if err != nil {
		return "./logs"
	}
	return filepath.Join(filepath.Dir(execPath), "logs")
}

// logSinks reports which writers [logging].output asks for. "console" is an
// alias of "stdout".
func logSinks(outputs []string) (file, console bool) {
	for _, output := range outputs {
		switch output {
		case "file":
			file = true
		case "stdout", "console":
			console = true
		}
	}
	return file, console
}

// InitLogger builds the arbor logger from [logging]. A search run drops the
// console sink and calls it again so stdout stays clean.
func InitLogger(config *Config) arbor.ILogger {
	logging := config.Logging
	timeFormat := logging.TimeFormat
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}
	text := logging.Format != "json"

	logger := arbor.NewLogger()
	toFile, toConsole := logSinks(logging.Output)

	if toFile {
		dir := LogsDir()
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "koscout: log directory %s unavailable, file logging off: %v\n", dir, err)
		} else {
			logger = logger.WithFileWriter(arbormodels.WriterConfiguration{
				Type:       arbormodels.LogWriterTypeFile,
				FileName:   filepath.Join(dir, logFileName),
				TimeFormat: timeFormat,
				MaxSize:    logFileMaxSize,
				MaxBackups: logFileMaxBackups,
				TextOutput: text,
			})
		}
	}

	if toConsole {
		logger = logger.WithConsoleWriter(arbormodels.WriterConfiguration{
			Type:       arbormodels.LogWriterTypeConsole,
			TimeFormat: timeFormat,
			TextOutput: text,
		})
	}

	return logger.WithLevelFromString(logging.Level)
}
