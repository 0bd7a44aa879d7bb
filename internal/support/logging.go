package support

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConfigureLogging applies LOG_LEVEL and, when LOG_FILE is set, mirrors log
// output into a size-rotated file. The returned closer flushes that file.
func ConfigureLogging() io.Closer {
	log.SetLevel(ParseLogLevel(GetEnv("LOG_LEVEL", "info")))
	log.SetReportTimestamp(true)

	path := strings.TrimSpace(GetEnv("LOG_FILE", ""))
	if path == "" {
		return nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    GetEnvInt("LOG_FILE_MAX_MB", 100),
		MaxBackups: GetEnvInt("LOG_FILE_MAX_BACKUPS", 5),
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	log.Debug("Logging to file", "path", path, "max_mb", rotator.MaxSize)
	return rotator
}

// ParseLogLevel maps a level name to a log.Level, defaulting to info.
func ParseLogLevel(raw string) log.Level {
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return log.InfoLevel
	}
	return level
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
