// Package notify tells operators that a new snapshot is about to be processed.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/history-extracts/pkg/logger"
)

// Message is a single notification.
type Message struct {
	Subject string
	Body    string
}

// Notifier delivers a Message. Callers treat failures as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes the message to the log.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.With("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.log.Info().Str("subject", msg.Subject).Msg(msg.Body)
	return nil
}

type noopNotifier struct{}

// Noop returns a Notifier that drops every message.
func Noop() Notifier { return noopNotifier{} }

func (noopNotifier) Notify(context.Context, Message) error { return nil }

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = noopNotifier{}
)
