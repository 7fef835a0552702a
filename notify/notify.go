package notify

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Kind identifies the notification template.
type Kind string

const (
	KindEmailVerification Kind = "email_verification"
	KindPasswordRecovery  Kind = "password_recovery"
)

// Message is a single outbound notification. Link embeds the opaque token
// value and is only valid until ExpiresAt.
type Message struct {
	Kind      Kind      `json:"kind"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Notifier sends a message to its recipient.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogNotifier logs messages instead of delivering them. The link is never
// logged since it carries a live token.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a LogNotifier. A nil logger is replaced by a no-op.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.logger.Info("notification not delivered: no broker configured",
		zap.String("kind", string(msg.Kind)),
		zap.String("user_id", msg.UserID),
		zap.Time("expires_at", msg.ExpiresAt),
	)
	return nil
}

// BuildLink appends the token as the "token" query parameter of base.
func BuildLink(base, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
