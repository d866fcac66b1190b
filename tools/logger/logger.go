package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// Level 日志级别
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel 解析日志级别，无法识别时返回INFO
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

var (
	mu       sync.Mutex // 前缀和输出共用一把锁，保证一行日志的前缀不被其他goroutine改写
	logger   = log.New(os.Stderr, "", log.LstdFlags)
	minLevel atomic.Int32
	file     *os.File
)

func init() {
	minLevel.Store(int32(LevelInfo))
}

// SetLevel 设置最低输出级别
func SetLevel(l Level) {
	minLevel.Store(int32(l))
}

// GetLevel 当前最低输出级别
func GetLevel() Level {
	return Level(minLevel.Load())
}

// SetOutput 设置日志输出位置
func SetOutput(w io.Writer) {
	mu.Lock()
	logger.SetOutput(w)
	mu.Unlock()
}

// OpenFile 把日志追加写入path，"stdout"和"stderr"表示标准输出
func OpenFile(path string) error {
	var w io.Writer
	switch path {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0666)
		if err != nil {
			return err
		}
		w = f
	}

	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		_ = file.Close()
		file = nil
	}
	if f, ok := w.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		file = f
	}
	logger.SetOutput(w)
	return nil
}

func enabled(level Level) bool {
	return level >= Level(minLevel.Load())
}

func output(level Level, msg string) {
	_, f, line, ok := runtime.Caller(2)
	prefix := fmt.Sprintf("[%s]", level)
	if ok {
		prefix = fmt.Sprintf("[%s][%s:%d]", level, filepath.Base(f), line)
	}

	mu.Lock()
	logger.SetPrefix(prefix)
	logger.Print(msg)
	mu.Unlock()
}

func DebugF(format string, v ...any) {
	if enabled(LevelDebug) {
		output(LevelDebug, fmt.Sprintf(format, v...))
	}
}

func Debug(v ...any) {
	if enabled(LevelDebug) {
		output(LevelDebug, fmt.Sprintln(v...))
	}
}

func InfoF(format string, v ...any) {
	if enabled(LevelInfo) {
		output(LevelInfo, fmt.Sprintf(format, v...))
	}
}

func Info(v ...any) {
	if enabled(LevelInfo) {
		output(LevelInfo, fmt.Sprintln(v...))
	}
}

func WarnF(format string, v ...any) {
	if enabled(LevelWarn) {
		output(LevelWarn, fmt.Sprintf(format, v...))
	}
}

func Warn(v ...any) {
	if enabled(LevelWarn) {
		output(LevelWarn, fmt.Sprintln(v...))
	}
}

func ErrorF(format string, v ...any) {
	if enabled(LevelError) {
		output(LevelError, fmt.Sprintf(format, v...))
	}
}

func Error(v ...any) {
	if enabled(LevelError) {
		output(LevelError, fmt.Sprintln(v...))
	}
}

// FatalF 输出日志后退出进程
func FatalF(format string, v ...any) {
	output(LevelFatal, fmt.Sprintf(format, v...))
	os.Exit(1)
}

func Fatal(v ...any) {
	output(LevelFatal, fmt.Sprintln(v...))
	os.Exit(1)
}
