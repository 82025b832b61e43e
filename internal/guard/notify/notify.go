// Package notify delivers intrusion alerts to external collaborators.
package notify

import (
	"context"
	"encoding/base64"
	"time"
)

const AlertTypeIntrusion = "intrusion"

// Alert is the outbound payload shared by every notifier.
type Alert struct {
	Type        string `json:"type"`
	Timestamp   string `json:"timestampISO8601"`
	ImageBase64 string `json:"imageBase64"`
	Details     string `json:"detailsText"`
}

// NewIntrusionAlert builds an intrusion alert carrying a JPEG snapshot.
func NewIntrusionAlert(at time.Time, jpeg []byte, details string) Alert {
	return Alert{
		Type:        AlertTypeIntrusion,
		Timestamp:   at.UTC().Format(time.RFC3339),
		ImageBase64: base64.StdEncoding.EncodeToString(jpeg),
		Details:     details,
	}
}

// Notifier sends an alert somewhere. Implementations must honour ctx.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}
