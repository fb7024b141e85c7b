// Package notifications renders and delivers customer emails for tickets and orders.
package notifications

import (
	"context"
	"errors"
	"strings"
)

// Message is a rendered email ready for delivery.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// SendResult reports the provider identifier of a delivered message.
type SendResult struct {
	MessageID string
	Transport string
}

// Sender delivers a rendered message. Implementations block until the transport accepted it.
type Sender interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// ErrInvalidMessage indicates the message is missing a recipient, subject or body.
var ErrInvalidMessage = errors.New("notifications: invalid message")

func (m Message) validate() error {
	switch {
	case strings.TrimSpace(m.To) == "":
		return errors.Join(ErrInvalidMessage, errors.New("recipient is required"))
	case strings.TrimSpace(m.Subject) == "":
		return errors.Join(ErrInvalidMessage, errors.New("subject is required"))
	case strings.TrimSpace(m.HTML) == "":
		return errors.Join(ErrInvalidMessage, errors.New("body is required"))
	}
	if strings.ContainsAny(m.To, "\r\n") || strings.ContainsAny(m.Subject, "\r\n") {
		return errors.Join(ErrInvalidMessage, errors.New("header values must not contain line breaks"))
	}
	return nil
}
