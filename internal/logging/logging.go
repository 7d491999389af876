package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	verbose atomic.Bool

	mu         sync.Mutex
	output     io.Writer = os.Stdout
	stderr     io.Writer = os.Stderr
	outputFile *lumberjack.Logger
	outputPath string
	logger     = build(os.Stderr, nil)
)

// SetVerbose enables or disables debug logging for the current process.
func SetVerbose(enabled bool) {
	verbose.Store(enabled)
	mu.Lock()
	defer mu.Unlock()
	logger = build(stderr, outputFile)
}

// Verbose reports whether debug logging is enabled.
func Verbose() bool {
	return verbose.Load()
}

// Logger returns the structured logger used by the launcher core. Records go
// to stderr and, when a log file is configured, to the file as JSON.
func Logger() *zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	l := logger
	return &l
}

// SetOutputFile configures optional file logging while preserving stdout output.
// The file is rotated once it grows past a few megabytes. Passing an empty path
// disables file logging.
func SetOutputFile(path string) error {
	path = strings.TrimSpace(path)

	mu.Lock()
	defer mu.Unlock()

	if path == outputPath {
		return nil
	}

	if outputFile != nil {
		err := outputFile.Close()
		outputFile = nil
		outputPath = ""
		output = os.Stdout
		logger = build(stderr, nil)
		if err != nil {
			return err
		}
	}

	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// lumberjack opens lazily; probe the path so a bad location fails here.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	outputFile = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5,
		MaxBackups: 2,
	}
	outputPath = path
	output = io.MultiWriter(os.Stdout, outputFile)
	logger = build(stderr, outputFile)
	return nil
}

// Close flushes and closes the log file if one is configured.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if outputFile == nil {
		return nil
	}
	err := outputFile.Close()
	outputFile = nil
	outputPath = ""
	output = os.Stdout
	logger = build(stderr, nil)
	return err
}

// Infof prints formatted output regardless of verbosity level.
func Infof(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(output, format, args...)
}

// Infoln prints output regardless of verbosity level.
func Infoln(args ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintln(output, args...)
}

// Debugf prints formatted output only when verbose mode is enabled.
func Debugf(format string, args ...any) {
	if !Verbose() {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(output, format, args...)
}

func build(console io.Writer, file *lumberjack.Logger) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose.Load() {
		level = zerolog.DebugLevel
	}

	consoleWriter := zerolog.ConsoleWriter{Out: console, NoColor: true, TimeFormat: "15:04:05"}
	// Only warnings reach the terminal unless verbose; the file gets everything at level.
	var w io.Writer = zerolog.MultiLevelWriter(levelFilter{w: consoleWriter, min: consoleLevel()})
	if file != nil {
		w = zerolog.MultiLevelWriter(levelFilter{w: consoleWriter, min: consoleLevel()}, file)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func consoleLevel() zerolog.Level {
	if verbose.Load() {
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}

type levelFilter struct {
	w   io.Writer
	min zerolog.Level
}

func (f levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f levelFilter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < f.min {
		return len(p), nil
	}
	return f.w.Write(p)
}
