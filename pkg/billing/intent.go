package billing

import (
	"time"

	"github.com/google/uuid"
)

// Template identifies a notification email.
type Template string

const (
	TemplateTrialStarted          Template = "trial_started"
	TemplateSubscriptionActive    Template = "subscription_active"
	TemplateSubscriptionCancelled Template = "subscription_cancelled"
)

// DefaultRecipientName is used when the recipient's name is unknown.
const DefaultRecipientName = "User"

// NotificationIntent is a notification the Reconciler wants delivered.
// Delivery is the dispatcher's job; the Reconciler never sends anything itself.
type NotificationIntent struct {
	EventID   string
	TenantID  uuid.UUID
	Template  Template
	Recipient Contact
	PlanName  string
	EndDate   *time.Time // cancellation only
}

// Key identifies the intent for at-most-once delivery.
func (n NotificationIntent) Key() string {
	return n.EventID + ":" + string(n.Template)
}
