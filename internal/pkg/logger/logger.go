package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewDefault 根据日志级别创建输出到 stdout 的 JSON logger。
func NewDefault(level string) *slog.Logger {
	return New(os.Stdout, level, true)
}

// New 创建 logger。json=false 时使用文本格式（本地调试更易读）。
func New(w io.Writer, level string, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ForEnv 按运行环境选择格式：local 用文本，其余用 JSON。
func ForEnv(env, level string) *slog.Logger {
	return New(os.Stdout, level, !strings.EqualFold(env, "local"))
}

// ParseLevel 将字符串级别转换为 slog.Level，无法识别时返回 Info。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard 返回丢弃所有输出的 logger，用于测试。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
