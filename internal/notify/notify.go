// Package notify tells clinicians and the team when a report is ready or a
// run has failed.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Kind says what happened.
type Kind string

const (
	KindComplete Kind = "complete"
	KindFailed   Kind = "failed"
)

// Attachment is a file sent with a message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is one notification. To is used by email only.
type Message struct {
	Kind        Kind
	ChataID     string
	To          []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Notifier delivers a message.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications to a logger. It stands in when no channel is
// configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(_ context.Context, m Message) error {
	names := make([]string, len(m.Attachments))
	for i, a := range m.Attachments {
		names[i] = a.Name
	}
	l.Logger.Info("notification", "kind", m.Kind, "chata_id", m.ChataID, "to", m.To, "subject", m.Subject, "attachments", names)
	return nil
}

const DocxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
