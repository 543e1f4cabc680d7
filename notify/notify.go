// Package notify delivers engine events to the outside world.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jhchabran/agora"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// Slack posts events to an incoming webhook.
type Slack struct {
	webhookURL string
	username   string
}

func NewSlack(webhookURL string, username string) *Slack {
	return &Slack{webhookURL: webhookURL, username: username}
}

func (s *Slack) Notify(ctx context.Context, ev agora.Event) error {
	msg := &slack.WebhookMessage{
		Username: s.username,
		Text:     Text(ev),
	}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
		return fmt.Errorf("post %s to slack: %w", ev.Type, err)
	}
	return nil
}

// Text renders an event as a one line message.
func Text(ev agora.Event) string {
	var line string
	switch ev.Type {
	case agora.EventVoteCast:
		line = fmt.Sprintf("%s voted on %s %s: %s", ev.ActorID, ev.TargetKind, ev.TargetID, ev.Transition)
	case agora.EventAnswerAccepted:
		line = fmt.Sprintf("%s accepted answer %s on question %s", ev.ActorID, ev.TargetID, ev.QuestionID)
	case agora.EventCommentCreated:
		line = fmt.Sprintf("%s commented on question %s", ev.ActorID, ev.QuestionID)
	default:
		line = fmt.Sprintf("%s on %s %s", ev.Type, ev.TargetKind, ev.TargetID)
	}

	if ev.Excerpt != "" {
		line += ": " + ev.Excerpt
	}
	return line
}

// Log writes events to a logger.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, ev agora.Event) error {
	l.logger.Info().
		Str("event", string(ev.Type)).
		Str("target", ev.TargetID).
		Str("target_kind", string(ev.TargetKind)).
		Str("question", ev.QuestionID).
		Str("actor", ev.ActorID).
		Str("recipient", ev.RecipientID).
		Str("transition", ev.Transition).
		Time("at", ev.At).
		Msg(Text(ev))
	return nil
}

// Fanout hands each event to every notifier, even when some of them fail.
type Fanout []agora.Notifier

func (f Fanout) Notify(ctx context.Context, ev agora.Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
