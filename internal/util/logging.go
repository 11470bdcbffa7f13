package util

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// DebugMode 控制是否输出调试日志
var DebugMode = false

var (
	loggerMu sync.RWMutex
	logger   = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo}))
)

// InitDebugMode reads CROJ_DEBUG and toggles DebugMode.
func InitDebugMode() {
	debugEnv := os.Getenv("CROJ_DEBUG")
	DebugMode = debugEnv != "" && strings.ToLower(debugEnv) != "false" && debugEnv != "0"
}

// InitLogging installs a tint-backed slog logger writing to w as the process default.
// Colour is only used when w is a terminal.
func InitLogging(w io.Writer) *slog.Logger {
	InitDebugMode()

	level := slog.LevelInfo
	if DebugMode {
		level = slog.LevelDebug
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}

	l := slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		AddSource:  DebugMode,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	}))

	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	slog.SetDefault(l)
	return l
}

// Logger returns the process logger.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// OrDefault returns l, or the process logger when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Logger()
}

// DebugLog 只在调试模式下输出日志
func DebugLog(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// InfoLog 输出普通信息日志
func InfoLog(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// WarnLog 输出警告日志
func WarnLog(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// ErrorLog 输出错误日志
func ErrorLog(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// FatalLog 输出致命错误并退出程序
func FatalLog(msg string, args ...any) {
	Logger().Error(msg, args...)
	os.Exit(1)
}
