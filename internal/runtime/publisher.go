package runtime

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/meshflow/internal/runtime/errors"
	idspkg "github.com/drblury/meshflow/internal/runtime/ids"
)

// metadataContentType marks published documents as JSON for transports that
// forward metadata as headers.
const metadataContentType = "content_type"

// NewDocumentMessage wraps an encoded JSON document in a Watermill message
// with a fresh ULID.
func NewDocumentMessage(payload []byte) *message.Message {
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata.Set(metadataContentType, "application/json")
	return msg
}

// PublishDocument publishes payload on topic and returns the message UUID.
// It returns once the publisher has confirmed delivery.
func PublishDocument(ctx context.Context, publisher message.Publisher, topic string, payload []byte) (string, error) {
	if publisher == nil {
		return "", errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return "", errspkg.ErrTopicRequired
	}

	msg := NewDocumentMessage(payload)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return msg.UUID, publisher.Publish(topic, msg)
}
