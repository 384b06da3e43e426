package internal

import (
	"sort"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SetupLogging builds the process logger from cfg and installs it as the zap
// global so NewLogger picks it up.
func SetupLogging(cfg LogConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development || strings.EqualFold(cfg.Format, "console") {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zapCfg.Level = level
	}
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// NewLogger returns a logger named taskhooks.<component>.
func NewLogger(component string) *zap.Logger {
	logger := zap.L().Named("taskhooks")
	if component != "" {
		logger = logger.Named(component)
	}
	return logger
}

// WithRequestID tags logger with the request id.
func WithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	if logger == nil {
		logger = NewLogger("")
	}
	if requestID == "" {
		return logger
	}
	return logger.With(zap.String("request_id", requestID))
}

// watermillLogger sends watermill's logs through zap.
type watermillLogger struct {
	logger *zap.Logger
}

// NewWatermillLogger adapts logger to watermill.LoggerAdapter.
func NewWatermillLogger(logger *zap.Logger) watermill.LoggerAdapter {
	if logger == nil {
		logger = NewLogger("watermill")
	}
	return watermillLogger{logger: logger}
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.logger.Info(msg, zapFields(fields)...)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, zapFields(fields)...)
}

// Trace maps to debug; zap has no lower level.
func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, zapFields(fields)...)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{logger: l.logger.With(zapFields(fields)...)}
}

func zapFields(fields watermill.LogFields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, key := range keys {
		out = append(out, zap.Any(key, fields[key]))
	}
	return out
}
