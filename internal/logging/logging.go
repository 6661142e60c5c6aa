package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger so call sites can pass plain key/value
// pairs (doc_id, peer_id, actor_id, topic, ...) without constructing
// zap.Field values, matching the variadic logging style the adapters and
// agent runtime use throughout this module.
type Logger struct {
	*zap.SugaredLogger
}

// NewLogger builds a Logger at the given zap level ("debug", "info",
// "warn", "error") and encoding ("console" or "json").
func NewLogger(level string, format string) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    format,
		EncoderConfig: zapcore.EncoderConfig{
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
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{SugaredLogger: logger.Sugar()}, nil
}

// WithDocID returns a child logger tagged with the document id.
func (l *Logger) WithDocID(docID string) *Logger {
	return &Logger{SugaredLogger: l.With("doc_id", docID)}
}

// WithPeerID returns a child logger tagged with a peer id.
func (l *Logger) WithPeerID(peerID string) *Logger {
	return &Logger{SugaredLogger: l.With("peer_id", peerID)}
}

// WithActorID returns a child logger tagged with an actor id.
func (l *Logger) WithActorID(actorID string) *Logger {
	return &Logger{SugaredLogger: l.With("actor_id", actorID)}
}

// WithTopic returns a child logger tagged with a bus topic.
func (l *Logger) WithTopic(topic string) *Logger {
	return &Logger{SugaredLogger: l.With("topic", topic)}
}

// WithError returns a child logger tagged with an error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{SugaredLogger: l.With("error", err)}
}
