// Package notify is the boundary to outbound message delivery. The workflow
// decides that and when a party is told something; a Notifier decides how.
package notify

import (
	"context"
	"net/url"

	"go.uber.org/zap"
)

// Kind is the reason for a notification.
type Kind string

const (
	KindInvitation Kind = "invitation"
	KindReminder   Kind = "reminder"
	KindCompleted  Kind = "completed"
)

// Message is one notification to one recipient on one channel.
type Message struct {
	Kind         Kind
	Channel      string
	RequestID    string
	RequestTitle string
	SignerID     string
	Recipient    string
	Email        string
	Phone        string
	// Link is the signing URL carrying the raw access token, empty for
	// completion notices.
	Link string
}

// Notifier delivers messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, msg Message) error

func (f Func) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }

// SigningLink builds the URL a signer opens.
func SigningLink(baseURL, token string) string {
	return baseURL + "/sign/" + url.PathEscape(token)
}

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.With(zap.String("component", "notifier"))}
}

func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.log.Info("notification",
		zap.String("kind", string(msg.Kind)),
		zap.String("channel", msg.Channel),
		zap.String("request_id", msg.RequestID),
		zap.String("signer_id", msg.SignerID),
		zap.String("recipient", msg.Recipient),
		zap.Bool("has_link", msg.Link != ""),
	)
	return nil
}
