package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const webhookTokenTTL = time.Minute

// WebhookNotifier POSTs alerts as JSON. Each request carries a short lived
// HS256 bearer token so the receiver can authenticate the sender.
type WebhookNotifier struct {
	URL    string
	Secret []byte
	Issuer string
	Client *http.Client
	Clock  clockwork.Clock
}

func NewWebhookNotifier(url string, secret []byte, issuer string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Secret: secret,
		Issuer: issuer,
		Client: &http.Client{Timeout: DefaultTimeout},
		Clock:  clockwork.NewRealClock(),
	}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if len(n.Secret) > 0 {
		token, err := n.sign(a)
		if err != nil {
			return fmt.Errorf("failed to sign webhook token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) sign(a Alert) (string, error) {
	now := n.Clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    n.Issuer,
		Subject:   a.Type,
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(webhookTokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(n.Secret)
}
