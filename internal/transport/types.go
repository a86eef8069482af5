package transport

import (
	"context"
	"time"

	"sendbot/internal/message"
)

// DeliveryReceipt identifies a send the transport acknowledged.
type DeliveryReceipt struct {
	RemoteID  string
	Delivered time.Time
}

// Transport is the outbound capability the scheduler core depends on.
//
// Recipient resolution (mapping RecipientID to a transport-level address)
// is entirely the transport's responsibility; the core passes the id
// through opaquely. Any Send error is non-retriable for that occurrence.
type Transport interface {
	// Ready reports whether a send attempt may be made now.
	Ready() bool
	Send(ctx context.Context, recipientID, content string, attachments []message.Attachment) (DeliveryReceipt, error)
}
