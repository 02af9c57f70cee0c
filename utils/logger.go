package utils

import (
	"io"
	"log"
	"os"
)

// Logger 简单分级日志封装，每个组件带自己的前缀
type Logger struct {
	prefix string
	out    *log.Logger
	debug  bool
}

// NewLogger 创建带组件前缀的日志器
func NewLogger(component string) *Logger {
	return &Logger{
		prefix: "[" + component + "] ",
		out:    log.New(os.Stderr, "", log.LstdFlags),
	}
}

// NewDiscardLogger 测试用，丢弃所有输出
func NewDiscardLogger() *Logger {
	return &Logger{out: log.New(io.Discard, "", 0)}
}

// WithDebug 返回开启 DEBUG 输出的副本
func (l *Logger) WithDebug(enabled bool) *Logger {
	cp := *l
	cp.debug = enabled
	return &cp
}

// Named 返回同一输出、不同组件前缀的日志器
func (l *Logger) Named(component string) *Logger {
	cp := *l
	cp.prefix = "[" + component + "] "
	return &cp
}

// Debug 调试日志，默认关闭
func (l *Logger) Debug(msg string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.out.Printf("[DEBUG] "+l.prefix+msg, args...)
}

// Info 信息日志
func (l *Logger) Info(msg string, args ...interface{}) {
	l.out.Printf("[INFO] "+l.prefix+msg, args...)
}

// Warn 警告日志
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.out.Printf("[WARN] "+l.prefix+msg, args...)
}

// Error 错误日志
func (l *Logger) Error(msg string, args ...interface{}) {
	l.out.Printf("[ERROR] "+l.prefix+msg, args...)
}
