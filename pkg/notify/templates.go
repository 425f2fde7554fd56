package notify

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
)

// Compose renders an intent into a message addressed to its recipient.
func Compose(ctx context.Context, intent billing.NotificationIntent) (Message, error) {
	name := intent.Recipient.Name
	if name == "" {
		name = billing.DefaultRecipientName
	}

	var (
		subject string
		body    templ.Component
	)
	switch intent.Template {
	case billing.TemplateTrialStarted:
		subject = fmt.Sprintf("Your %s trial has started", intent.PlanName)
		body = paragraphs(
			fmt.Sprintf("Hi %s,", name),
			fmt.Sprintf("Your free trial of %s is now active. All plan features are unlocked for your clinic.", intent.PlanName),
			"You will not be charged until the trial ends. You can change or cancel your plan at any time from the billing page.",
		)
	case billing.TemplateSubscriptionActive:
		subject = fmt.Sprintf("Your %s subscription is active", intent.PlanName)
		body = paragraphs(
			fmt.Sprintf("Hi %s,", name),
			fmt.Sprintf("Thank you for subscribing. Your %s subscription is now active.", intent.PlanName),
		)
	case billing.TemplateSubscriptionCancelled:
		subject = fmt.Sprintf("Your %s subscription has been cancelled", intent.PlanName)
		access := "Your clinic has been moved to the Free plan."
		if intent.EndDate != nil {
			access = fmt.Sprintf("You keep access to all %s features until %s. After that your clinic moves to the Free plan.",
				intent.PlanName, intent.EndDate.UTC().Format("January 2, 2006"))
		}
		body = paragraphs(
			fmt.Sprintf("Hi %s,", name),
			fmt.Sprintf("Your %s subscription has been cancelled.", intent.PlanName),
			access,
		)
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, intent.Template)
	}

	var sb strings.Builder
	if err := layout(subject, body).Render(ctx, &sb); err != nil {
		return Message{}, fmt.Errorf("notify: render %s: %w", intent.Template, err)
	}

	return Message{
		To:      intent.Recipient.Email,
		Subject: subject,
		HTML:    sb.String(),
		Tag:     string(intent.Template),
	}, nil
}

func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><title>`+
			templ.EscapeString(title)+
			`</title></head><body style="font-family:Arial,sans-serif;color:#1f2937;background:#f9fafb;padding:24px">`+
			`<table role="presentation" width="100%" style="max-width:560px;margin:0 auto;background:#ffffff;border-radius:8px;padding:32px"><tr><td>`+
			`<h1 style="font-size:20px;margin:0 0 16px">`+templ.EscapeString(title)+`</h1>`); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</td></tr></table></body></html>`)
		return err
	})
}

func paragraphs(lines ...string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		for _, line := range lines {
			if _, err := io.WriteString(w, `<p style="font-size:15px;line-height:22px;margin:0 0 12px">`+templ.EscapeString(line)+`</p>`); err != nil {
				return err
			}
		}
		return nil
	})
}
