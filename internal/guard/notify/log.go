package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes alerts to the structured log. The image is omitted.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Name() string { return "log" }

func (n LogNotifier) Notify(_ context.Context, a Alert) error {
	n.Logger.Warn("intrusion alert",
		"type", a.Type,
		"timestamp", a.Timestamp,
		"details", a.Details,
		"image_bytes", len(a.ImageBase64)*3/4,
	)
	return nil
}
