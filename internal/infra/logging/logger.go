package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// InitLogger writes JSON logs to stdout and, when file is set, to a rotated
// log file.
func InitLogger(file string, maxSizeMB, maxBackups, maxAgeDays int, compress bool, level string) {
	var out io.Writer = os.Stdout
	if file != "" {
		if err := ensureLogDir(file); err != nil {
			fmt.Fprintf(os.Stderr, "log dir: %v\n", err)
		} else {
			out = zerolog.MultiLevelWriter(os.Stdout, &lumberjack.Logger{
				Filename:   file,
				MaxSize:    maxSizeMB,
				MaxBackups: maxBackups,
				MaxAge:     maxAgeDays,
				Compress:   compress,
			})
		}
	}

	l := zerolog.New(out).With().Timestamp().Str("service", "svg2pdf").Logger()

	mu.Lock()
	logger = l.Level(parseLevel(level))
	mu.Unlock()
}

func ensureLogDir(file string) error {
	dir := filepath.Dir(file)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetLogLevel changes the minimum level; unknown names fall back to info.
func SetLogLevel(level string) {
	mu.Lock()
	logger = logger.Level(parseLevel(level))
	mu.Unlock()
}

// SetLoggerForTest replaces the package logger.
func SetLoggerForTest(l zerolog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

func Debug(msg string, kv ...interface{}) { log(zerolog.DebugLevel, msg, kv) }
func Info(msg string, kv ...interface{})  { log(zerolog.InfoLevel, msg, kv) }
func Warn(msg string, kv ...interface{})  { log(zerolog.WarnLevel, msg, kv) }
func Error(msg string, kv ...interface{}) { log(zerolog.ErrorLevel, msg, kv) }

// Printf adapts the logger to printf-style callbacks such as chromedp's
// WithLogf or automaxprocs.
func Printf(format string, args ...interface{}) {
	Debug(fmt.Sprintf(format, args...))
}

// Errorf is the error-level counterpart of Printf.
func Errorf(format string, args ...interface{}) {
	Warn(fmt.Sprintf(format, args...))
}

func log(level zerolog.Level, msg string, kv []interface{}) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	ev := l.WithLevel(level)
	if ev == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if err, isErr := kv[i+1].(error); isErr {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	if len(kv)%2 == 1 {
		ev = ev.Interface("extra", kv[len(kv)-1])
	}
	ev.Msg(msg)
}
