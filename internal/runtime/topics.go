package runtime

import (
	"strings"

	errspkg "github.com/drblury/meshflow/internal/runtime/errors"
)

// Topic marker segments. Binary envelopes arrive under InputMarker and their
// JSON translation is published under OutputMarker.
const (
	InputMarker  = "/e/"
	OutputMarker = "/json/"
)

// OutputTopic derives the publish topic for an input topic by replacing every
// InputMarker with OutputMarker.
func OutputTopic(topic string) (string, error) {
	if !strings.Contains(topic, InputMarker) {
		return "", &errspkg.TopicMismatchError{Topic: topic, Marker: InputMarker}
	}
	return strings.ReplaceAll(topic, InputMarker, OutputMarker), nil
}
