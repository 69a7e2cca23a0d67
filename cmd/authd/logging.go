package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	identity "github.com/actionjacksonthegoat-debug/SeventySix-sub005"
)

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// rotatingWriter returns stderr when path is empty, otherwise a lumberjack
// file rotated by size.
func rotatingWriter(s *settings, path string) (zapcore.WriteSyncer, io.Closer) {
	if path == "" {
		return zapcore.Lock(os.Stderr), nopCloser{}
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    s.LogMaxSizeMB,
		MaxBackups: s.LogMaxBackups,
		MaxAge:     s.LogMaxAgeDays,
		Compress:   true,
	}
	return zapcore.AddSync(lj), lj
}

// newLogger builds the application logger. The returned closer releases the
// log file, if any.
func newLogger(s *settings) (*zap.Logger, io.Closer, error) {
	level, err := zapcore.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %s: %w", s.LogLevel, err)
	}
	ws, closer := rotatingWriter(s, s.LogFile)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), ws, level)
	return zap.New(core, zap.AddCaller()), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newAuditSink(s *settings, app *zap.Logger) (identity.AuditSink, io.Closer) {
	if s.AuditFile == "" {
		return zapAuditSink(app.Named("audit")), nopCloser{}
	}
	ws, closer := rotatingWriter(s, s.AuditFile)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), ws, zapcore.InfoLevel)
	return zapAuditSink(zap.New(core).Named("audit")), closer
}

// zapAuditSink writes audit events as structured log lines.
func zapAuditSink(log *zap.Logger) identity.AuditSink {
	return identity.AuditSinkFunc(func(_ context.Context, ev identity.AuditEvent) {
		logAuditEvent(log, ev)
	})
}

func logAuditEvent(log *zap.Logger, ev identity.AuditEvent) {
	fields := []zap.Field{
		zap.String("event_type", ev.EventType),
		zap.Time("at", ev.Timestamp),
		zap.Bool("success", ev.Success),
	}
	if ev.UserID != 0 {
		fields = append(fields, zap.Int64("user_id", ev.UserID))
	}
	if ev.IP != "" {
		fields = append(fields, zap.String("ip", ev.IP))
	}
	if ev.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", ev.UserAgent))
	}
	if ev.Error != "" {
		fields = append(fields, zap.String("error", ev.Error))
	}
	if len(ev.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", ev.Metadata))
	}
	log.Info("audit", fields...)
}
