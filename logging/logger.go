package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grovetools/trail/config"
	"github.com/grovetools/trail/pkg/paths"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex
)

// NewLogger creates and returns a pre-configured logger for a specific component.
// It uses a singleton pattern per component to avoid re-initializing.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	var logCfg Config
	if cfg, err := config.LoadDefault(); err == nil {
		if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
			logrus.Warnf("Failed to parse 'logging' config: %v", err)
		}
	}

	entry := newLogger(component, logCfg, os.Stderr)
	loggers[component] = entry
	return entry
}

// newLogger builds a logger from an explicit config. stderr is the console
// sink used when structured output to the terminal is enabled.
func newLogger(component string, logCfg Config, stderr *os.File) *logrus.Entry {
	logger := logrus.New()

	levelStr := "info"
	if v := os.Getenv("TRAIL_LOG_LEVEL"); v != "" {
		levelStr = v
	} else if logCfg.Level != "" {
		levelStr = logCfg.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if os.Getenv("TRAIL_LOG_CALLER") == "true" || logCfg.ReportCaller {
		logger.SetReportCaller(true)
	}

	switch logCfg.Format.Preset {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "simple":
		logger.SetFormatter(&TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}})
	default:
		logger.SetFormatter(&TextFormatter{Config: logCfg.Format})
	}

	// The file sink is a hook so it can use its own (unstyled) formatter.
	if !logCfg.File.Disabled {
		logFilePath := logCfg.File.Path
		if logFilePath != "" {
			logFilePath = expandPath(logFilePath)
		} else {
			logFilePath = LogFilePath(component, time.Now())
		}
		if logFilePath != "" {
			if file, err := openLogFile(logFilePath); err == nil {
				var formatter logrus.Formatter = &TextFormatter{Config: logCfg.Format, Plain: true}
				if logCfg.File.Format == "json" {
					formatter = &logrus.JSONFormatter{}
				}
				logger.AddHook(&fileHook{writer: file, formatter: formatter})
			} else if logCfg.File.Path != "" {
				// Only warn if explicitly configured
				logger.Warnf("Failed to open log file %s: %v", logFilePath, err)
			}
		}
	}

	shouldLogToStderr := false
	stderrMode := "auto"
	if logCfg.Format.StructuredToStderr != "" {
		stderrMode = logCfg.Format.StructuredToStderr
	}

	switch stderrMode {
	case "always":
		shouldLogToStderr = true
	case "never":
		shouldLogToStderr = false
	default:
		// Show structured logs on stderr when debugging or when output is
		// not an interactive terminal (piped, CI, detached daemon).
		isDebug := os.Getenv("TRAIL_DEBUG") == "1" || logger.GetLevel() >= logrus.DebugLevel
		isInteractive := isatty.IsTerminal(stderr.Fd()) || isatty.IsCygwinTerminal(stderr.Fd())
		if isDebug || !isInteractive {
			shouldLogToStderr = true
		}
	}

	if shouldLogToStderr {
		logger.SetOutput(stderr)
	} else {
		logger.SetOutput(io.Discard)
	}

	return logger.WithField("component", component)
}

// LogFilePath returns the default log file for a component on the given day.
func LogFilePath(component string, day time.Time) string {
	dir := paths.LogsDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s.log", component, day.Format("2006-01-02")))
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// fileHook writes every entry to a file with its own formatter.
type fileHook struct {
	mu        sync.Mutex
	writer    io.Writer
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.writer.Write(line)
	return err
}

// expandPath expands tilde in file paths
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
