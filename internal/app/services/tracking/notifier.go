package tracking

import (
	"context"

	"github.com/ChainTrace-Network/tracking_layer/pkg/logger"
)

// Notifier receives lifecycle events after a mutation has committed. Payment
// settlement and price changes are announced here so downstream consumers do
// not have to poll the history log.
type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]interface{})
}

// Event names published by the registry.
const (
	EventItemCreated       = "item.created"
	EventTransferInitiated = "item.transfer.initiated"
	EventTransferConfirmed = "item.transfer.confirmed"
	EventItemSold          = "item.sold"
	EventPriceChanged      = "item.price.changed"
	EventIncidentReported  = "item.incident"
	EventCertificateAdded  = "item.certificate.added"
)

// logNotifier is the default sink: it writes each event to the structured log.
type logNotifier struct {
	log *logger.Logger
}

func (n *logNotifier) Notify(_ context.Context, event string, payload map[string]interface{}) {
	fields := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		fields[k] = v
	}
	fields["event"] = event
	n.log.WithFields(fields).Info("registry event")
}
