package syncrun

import (
	"context"
)

// Notifier delivers best-effort user-facing and operator-facing signals.
// Failures are logged by the processor, never escalated.
type Notifier interface {
	SendCompletionEmail(ctx context.Context, user *User, integration *Integration) error
	SendErrorAlert(ctx context.Context, integration *Integration, detail *ErrorDetail) error
	// PublishCompletion emits the onboarding progress event consumed by the
	// user-facing UI.
	PublishCompletion(ctx context.Context, tenantID, integrationID, status string) error
}
