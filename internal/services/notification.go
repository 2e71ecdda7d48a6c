package services

import (
	"context"

	"github.com/rentacoder/backend/pkg/logger"
)

// Notification templates
const (
	TemplateRegisterEmail         = "register_email"
	TemplateResetPassword         = "reset_password"
	TemplateYouAppliedToProject   = "you_applied_to_project"
	TemplateCoderAppliedToProject = "coder_applied_to_project"
	TemplateQuestionAsked         = "question_asked"
	TemplateQuestionAnswered      = "question_answered"
	TemplateApplicationAccepted   = "application_accepted"
	TemplateProjectClosed         = "project_closed"
	TemplatePendingScores         = "pending_scores"
)

// Dispatcher renders and delivers one notification to one recipient.
type Dispatcher interface {
	Send(ctx context.Context, templateID, recipient string, vars map[string]any) error
}

// NoopDispatcher drops every notification.
type NoopDispatcher struct{}

func (NoopDispatcher) Send(ctx context.Context, templateID, recipient string, vars map[string]any) error {
	return nil
}

// notify delivers through d and only logs failures. Callers invoke it after
// their transaction committed.
func notify(ctx context.Context, d Dispatcher, templateID, recipient string, vars map[string]any) {
	if d == nil || recipient == "" {
		return
	}
	if err := d.Send(ctx, templateID, recipient, vars); err != nil {
		logger.Error().
			Err(err).
			Str("template", templateID).
			Str("recipient", recipient).
			Msg("notification failed")
		return
	}
	logger.Debug().Str("template", templateID).Str("recipient", recipient).Msg("notification dispatched")
}
