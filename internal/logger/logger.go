package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger *slog.Logger
	debugEnabled bool
	fileWriter   *lumberjack.Logger
	mu           sync.RWMutex
)

// SetGlobal sets the global logger and debug state
func SetGlobal(logger *slog.Logger, debug bool) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = logger
	debugEnabled = debug
}

// Get returns the global logger instance
func Get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	if globalLogger != nil {
		return globalLogger
	}

	// Fallback logger
	level := slog.LevelInfo
	if debugEnabled {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler)
}

// IsDebug returns whether debug mode is enabled
func IsDebug() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugEnabled
}

// Init builds the global logger writing to both stderr and a rotating
// log file at the OS-conventional user log directory, per the
// "Persisted state" contract: pgmerge writes only to the output
// directory the user picked and to this log file.
func Init(debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	logPath, err := DefaultLogPath()
	if err != nil {
		// A log directory we can't create isn't fatal; fall back to
		// stderr only rather than aborting the run over logging.
		SetGlobal(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), debug)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		SetGlobal(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), debug)
		return nil
	}

	mu.Lock()
	fileWriter = &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	mu.Unlock()

	writer := io.MultiWriter(os.Stderr, fileWriter)
	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})
	SetGlobal(slog.New(handler), debug)
	return nil
}

// Close flushes and closes the rotating log file, if one is open.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if fileWriter == nil {
		return nil
	}
	return fileWriter.Close()
}

// DefaultLogPath returns the OS-conventional path for pgmerge's log file:
// %APPDATA%/pgmerge/pgmerge.log on Windows, ~/.local/state/pgmerge/pgmerge.log
// (or $XDG_STATE_HOME) elsewhere.
func DefaultLogPath() (string, error) {
	if runtime.GOOS == "windows" {
		base := os.Getenv("APPDATA")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, "pgmerge", "pgmerge.log"), nil
	}

	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, "pgmerge", "pgmerge.log"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "pgmerge", "pgmerge.log"), nil
}
