package logger

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a structured logger
type Logger interface {
	Debug(ctx context.Context, msg string, tags map[string]any)
	Info(ctx context.Context, msg string, tags map[string]any)
	Warn(ctx context.Context, msg string, tags map[string]any)
	Error(ctx context.Context, msg string, err error, tags map[string]any)
	// WithTags returns a logger that adds the tags to every entry
	WithTags(tags map[string]any) Logger
	Sync(ctx context.Context)
}

type zapLogger struct {
	logger *zap.Logger
}

// New returns a structured json logger with the given level and default fields
func New(level string, defaultFields map[string]any) (Logger, error) {
	cfg := zap.NewProductionConfig()
	var opts = []zap.Option{
		zap.WithCaller(true),
		zap.AddCallerSkip(1),
	}
	for k, v := range defaultFields {
		opts = append(opts, zap.Fields(zap.Any(k, v)))
	}
	cfg.Level = zap.NewAtomicLevelAt(getLevel(level))
	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, err
	}
	return &zapLogger{logger: logger}, nil
}

// NewNop returns a logger that discards every entry
func NewNop() Logger {
	return &zapLogger{logger: zap.NewNop()}
}

// NewZap wraps an existing zap logger
func NewZap(logger *zap.Logger) Logger {
	return &zapLogger{logger: logger}
}

func fields(ctx context.Context, tags map[string]any) []zap.Field {
	var fields []zap.Field
	for k, v := range GetTags(ctx) {
		fields = append(fields, zap.Any(k, v))
	}
	for k, v := range tags {
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

func (z *zapLogger) Error(ctx context.Context, msg string, err error, tags map[string]any) {
	z.logger.Error(msg, append(fields(ctx, tags), zap.Error(err))...)
}

func (z *zapLogger) Info(ctx context.Context, msg string, tags map[string]any) {
	z.logger.Info(msg, fields(ctx, tags)...)
}

func (z *zapLogger) Debug(ctx context.Context, msg string, tags map[string]any) {
	z.logger.Debug(msg, fields(ctx, tags)...)
}

func (z *zapLogger) Warn(ctx context.Context, msg string, tags map[string]any) {
	z.logger.Warn(msg, fields(ctx, tags)...)
}

func (z *zapLogger) WithTags(tags map[string]any) Logger {
	return &zapLogger{logger: z.logger.With(fields(context.Background(), tags)...)}
}

func (z *zapLogger) Sync(ctx context.Context) {
	_ = z.logger.Sync()
}

func getLevel(level string) zapcore.Level {
	levelMap := map[string]zapcore.Level{
		"error":   zap.ErrorLevel,
		"warn":    zap.WarnLevel,
		"warning": zap.WarnLevel,
		"info":    zap.InfoLevel,
		"debug":   zap.DebugLevel,
	}
	l, ok := levelMap[strings.ToLower(level)]
	if !ok {
		return zap.InfoLevel
	}
	return l
}
