// Package daemon contiene la lógica del servicio: configuración, logging y
// el cableado de la cola, el poller y el servidor WebSocket.
package daemon

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log configuration
const (
	maxLogSize     = 5 * 1024 * 1024 // 5MB
	rotateKeep     = 1000
	flushKeep      = 50
	timeFormat     = "2006-01-02T15:04:05.000Z07:00"
	logPermissions = 0600
)

// RotatingFile is the service log file. It is trimmed to its last lines when
// it grows past maxLogSize at open time, and on demand through Flush.
type RotatingFile struct {
	path string
	mu   sync.Mutex // Protege operaciones de archivo (write, flush, rotate)
	file *os.File
}

// OpenRotatingFile rotates path if needed and opens it for appending.
func OpenRotatingFile(path string) (*RotatingFile, error) {
	if err := rotateLogIfNeeded(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, logPermissions) //nolint:gosec
	if err != nil {
		return nil, err
	}
	return &RotatingFile{path: path, file: f}, nil
}

// Write implements zapcore.WriteSyncer.
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return 0, errors.New("log file not initialized")
	}
	return r.file.Write(p)
}

// Sync implements zapcore.WriteSyncer.
func (r *RotatingFile) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

// Size returns current log file size
func (r *RotatingFile) Size() int64 {
	info, err := os.Stat(r.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Flush keeps the last 50 lines and clears the rest
func (r *RotatingFile) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lines := readLastNLines(r.path, flushKeep)
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}

	// ningún Write() puede ocurrir
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return err
		}
		r.file = nil
	}
	if err := os.WriteFile(r.path, []byte(content), logPermissions); err != nil {
		return err
	}
	f, err := os.OpenFile(r.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, logPermissions) //nolint:gosec
	if err != nil {
		return err
	}
	r.file = f
	return nil
}

// Close closes the file.
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Logging holds the service logger and its runtime verbosity.
type Logging struct {
	Logger *zap.Logger
	File   *RotatingFile
	level  zap.AtomicLevel
}

// NewLogger builds the service logger writing JSON lines to the rotating
// file at path. In console mode entries are also printed to stdout. Verbose
// enables debug entries.
func NewLogger(path string, verbose, console bool) (*Logging, error) {
	file, err := OpenRotatingFile(path)
	if err != nil {
		return nil, err
	}
	l := &Logging{File: file, level: zap.NewAtomicLevel()}
	l.SetVerbose(verbose)

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig(false)), file, l.level),
	}
	if console {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig(true)), zapcore.Lock(os.Stdout), l.level))
	}
	l.Logger = zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	return l, nil
}

func encoderConfig(console bool) zapcore.EncoderConfig {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(timeFormat),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if console {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg
}

// SetVerbose changes the verbosity level at runtime
func (l *Logging) SetVerbose(v bool) {
	if v {
		l.level.SetLevel(zapcore.DebugLevel)
	} else {
		l.level.SetLevel(zapcore.InfoLevel)
	}
}

// Verbose returns current verbosity level
func (l *Logging) Verbose() bool {
	return l.level.Enabled(zapcore.DebugLevel)
}

// Close flushes buffered entries and closes the file.
func (l *Logging) Close() error {
	_ = l.Logger.Sync()
	return l.File.Close()
}

// rotateLogIfNeeded rotates log if exceeds max size
func rotateLogIfNeeded(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if info.Size() < maxLogSize {
		return nil
	}

	// Rotate: keep last 1000 lines
	lines := readLastNLines(path, rotateKeep)
	if len(lines) == 0 {
		return nil
	}

	content := strings.Join(lines, "\n") + "\n"
	return os.WriteFile(path, []byte(content), logPermissions)
}

// readLastNLines reads last N lines from file
func readLastNLines(path string, n int) []string {
	file, err := os.Open(path) //nolint:gosec
	if err != nil {
		return []string{}
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return []string{}
	}

	size := stat.Size()
	if size == 0 {
		return []string{}
	}

	// Read last 64KB max
	bufSize := int64(64 * 1024)
	if size < bufSize {
		bufSize = size
	}

	buf := make([]byte, bufSize)
	if _, err = file.Seek(size-bufSize, io.SeekStart); err != nil {
		return []string{}
	}
	if _, err = io.ReadFull(file, buf); err != nil {
		return []string{}
	}

	allLines := strings.Split(string(buf), "\n")

	// Clean empty lines at end
	for len(allLines) > 0 && allLines[len(allLines)-1] == "" {
		allLines = allLines[:len(allLines)-1]
	}

	// If we started mid-line, discard first partial line
	if size > bufSize && len(allLines) > 0 {
		allLines = allLines[1:]
	}

	if len(allLines) <= n {
		return allLines
	}
	return allLines[len(allLines)-n:]
}
