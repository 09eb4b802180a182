// Package notify sends fire-and-forget notifications on upload and
// submission milestones. Delivery failures are logged and never returned to
// the caller.
package notify

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind identifies a milestone.
type Kind string

const (
	KindUploadCompleted Kind = "upload.completed"
	KindJobSubmitted    Kind = "job.submitted"
)

// Event is one milestone notification.
type Event struct {
	Kind         Kind      `json:"kind"`
	Client       string    `json:"client,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	InputKey     string    `json:"inputKey"`
	JobName      string    `json:"jobName,omitempty"`
	InstanceType string    `json:"instanceType,omitempty"`
	At           time.Time `json:"at"`
}

// Message renders the event as a single human-readable line.
func (e Event) Message() string {
	name := path.Base(e.InputKey)
	switch e.Kind {
	case KindUploadCompleted:
		if e.Client != "" {
			return fmt.Sprintf("New upload from %s: %s", e.Client, name)
		}
		return fmt.Sprintf("New upload: %s", name)
	case KindJobSubmitted:
		return fmt.Sprintf("New submission: %s (job %s on %s)", name, e.JobName, e.InstanceType)
	}
	return fmt.Sprintf("%s: %s", e.Kind, name)
}

// Sink receives milestone notifications.
type Sink interface {
	Notify(ctx context.Context, e Event)
}

// Sender delivers one event to one destination.
type Sender interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// Notifier fans an event out to every Sender.
type Notifier struct {
	senders []Sender
}

var _ Sink = (*Notifier)(nil)

// New creates a Notifier. With no senders it drops every event.
func New(senders ...Sender) *Notifier {
	return &Notifier{senders: senders}
}

// Notify delivers e to every sender. Failures are logged only.
func (n *Notifier) Notify(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	for _, s := range n.senders {
		if err := s.Send(ctx, e); err != nil {
			log.Warn().
				Err(err).
				Str("sink", s.Name()).
				Str("kind", string(e.Kind)).
				Str("inputKey", e.InputKey).
				Msg("Notification delivery failed")
			continue
		}
		log.Debug().Str("sink", s.Name()).Str("kind", string(e.Kind)).Msg("Notification delivered")
	}
}
