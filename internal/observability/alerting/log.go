package alerting

import (
	"context"
	"log/slog"

	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/pkg/logger"
)

// LogNotifier 将告警写入日志，未配置其他渠道时作为兜底。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 按严重程度选择日志级别。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	log := logger.Named("alerting")
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	level := slog.LevelWarn
	switch event.Severity {
	case xerrors.SeverityCritical:
		level = slog.LevelError
	case xerrors.SeverityInfo:
		level = slog.LevelInfo
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("component", event.Component),
		slog.String("subject", event.Subject),
	}
	if event.Attempts > 0 {
		attrs = append(attrs, slog.Int("attempts", event.Attempts))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String("meta."+k, v))
	}
	log.Log(ctx, level, event.Message, attrs...)
	return nil
}
