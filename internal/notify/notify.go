// Package notify delivers rendered status messages. Delivery is best-effort:
// by the time a notifier runs the dedup state is already committed, so a
// failed send is logged and the event shows up again only when the shipment
// moves next.
package notify

import (
	"context"

	"github.com/skrattaren/onex-track/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, ev models.StatusEvent, message string) error
}
