package transport

import (
	"context"
	"strconv"
)

// ChatTarget addresses a destination on the notification sink.
//
// Telegram uses ChatID (+ optional forum ThreadID). Discord uses Channel.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
	Channel  string
}

// MessageRef identifies a delivered message so it can be acknowledged later.
type MessageRef struct {
	Target    ChatTarget
	MessageID string
}

func (r MessageRef) IsZero() bool { return r.MessageID == "" }

type SendOptions struct {
	// Color is an optional accent color (Discord embeds only).
	Color          int
	DisablePreview bool
}

// Adapter is a notification sink: deliver a message, optionally react to it.
//
// Text uses a light markdown dialect: **bold** is the only markup. Adapters
// translate it to their native formatting.
type Adapter interface {
	Name() string
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	React(ctx context.Context, ref MessageRef, reaction string) error
	Close() error
}

// StatusError is returned by adapters when the sink answered with an
// unexpected HTTP status.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return e.Op + ": unexpected status " + strconv.Itoa(e.Status)
	}
	return e.Op + ": unexpected status " + strconv.Itoa(e.Status) + ": " + e.Body
}
