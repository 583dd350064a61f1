package core

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventLogger appends a structured JSONL audit trail of every processed
// tracking hit, separate from the terminal log. One line per event.
type EventLogger struct {
	zl *zap.Logger
}

func NewEventLogger(dir string) (*EventLogger, error) {
	if err := os.MkdirAll(dir, os.FileMode(0700)); err != nil {
		return nil, err
	}

	enc_cfg := zap.NewProductionEncoderConfig()
	enc_cfg.TimeKey = "ts"
	enc_cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig = enc_cfg
	cfg.OutputPaths = []string{filepath.Join(dir, "events.jsonl")}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true

	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &EventLogger{zl: zl}, nil
}

func (el *EventLogger) LogResult(res *TrackResult) {
	fields := []zap.Field{
		zap.Int("campaign", res.Campaign.Id),
		zap.Int("target", res.Target.Id),
		zap.String("purpose", res.Event.Purpose),
		zap.String("nonce", res.Event.Nonce),
		zap.Bool("caused_transition", res.CausedTransition),
		zap.Bool("duplicate", res.Duplicate),
		zap.Bool("audit_only", res.AuditOnly),
		zap.String("state", res.Target.State),
	}
	if res.Action != nil {
		fields = append(fields,
			zap.String("training_key", res.Action.ContentKey),
			zap.String("training_severity", res.Action.Severity),
		)
	}
	el.zl.Info("event", fields...)
}

func (el *EventLogger) Close() {
	el.zl.Sync()
}
