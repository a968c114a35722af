package errors

import (
	sterrors "errors"
	"fmt"
	"os"
)

var (
	ErrPublisherRequired = sterrors.New("meshflow: publisher is required")
	ErrTopicRequired     = sterrors.New("meshflow: topic is required")
	ErrConfigRequired    = sterrors.New("meshflow: configuration is required")
	ErrLoggerRequired    = sterrors.New("meshflow: logger is required")
	ErrTransportRequired = sterrors.New("meshflow: transport is required")

	ErrDecode          = sterrors.New("meshflow: envelope decode failed")
	ErrUnsupportedType = sterrors.New("meshflow: unsupported payload type")
	ErrTopicMismatch   = sterrors.New("meshflow: topic does not contain input marker")
	ErrPublish         = sterrors.New("meshflow: publish failed")

	ErrQueueClosed    = sterrors.New("meshflow: translation queue is closed")
	ErrQueueStopped   = sterrors.New("meshflow: translation queue reached stop sentinel")
	ErrQueueCorrupted = sterrors.New("meshflow: translation queue holds an unexpected element")
	ErrQueueFull      = sterrors.New("meshflow: translation queue is full")

	ErrShutdownRequested = sterrors.New("meshflow: shutdown requested")
)

// DecodeError reports that raw bytes could not be parsed as Target.
type DecodeError struct {
	Target string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", ErrDecode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrDecode, e.Target, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// UnsupportedTypeError reports a port number outside the decoder table, or a
// packet without a decoded section.
type UnsupportedTypeError struct {
	PortNum        int32
	PortName       string
	MissingDecoded bool
}

func (e *UnsupportedTypeError) Error() string {
	if e.MissingDecoded {
		return fmt.Sprintf("%s: missing packet.decoded field, packet is possibly encrypted", ErrUnsupportedType)
	}
	if e.PortName != "" {
		return fmt.Sprintf("%s: port %d (%s)", ErrUnsupportedType, e.PortNum, e.PortName)
	}
	return fmt.Sprintf("%s: port %d", ErrUnsupportedType, e.PortNum)
}

func (e *UnsupportedTypeError) Is(target error) bool { return target == ErrUnsupportedType }

// TopicMismatchError reports an input topic without the expected marker segment.
type TopicMismatchError struct {
	Topic  string
	Marker string
}

func (e *TopicMismatchError) Error() string {
	return fmt.Sprintf("%s: %q has no %q segment", ErrTopicMismatch, e.Topic, e.Marker)
}

func (e *TopicMismatchError) Is(target error) bool { return target == ErrTopicMismatch }

// PublishError reports that the transport rejected or failed to acknowledge a
// message for Topic.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s: topic %q: %v", ErrPublish, e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

func (e *PublishError) Is(target error) bool { return target == ErrPublish }

// ShutdownError is used as a context cancellation cause when the operator asks
// the bridge to stop.
type ShutdownError struct {
	Signal os.Signal
}

func (e *ShutdownError) Error() string {
	if e.Signal == nil {
		return ErrShutdownRequested.Error()
	}
	return fmt.Sprintf("%s: received %s", ErrShutdownRequested, e.Signal)
}

func (e *ShutdownError) Is(target error) bool { return target == ErrShutdownRequested }

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "meshflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// Drop reasons reported in logs and metrics.
const (
	ReasonDecode          = "decode"
	ReasonUnsupportedType = "unsupported_type"
	ReasonTopicMismatch   = "topic_mismatch"
	ReasonPublish         = "publish"
	ReasonQueueFull       = "queue_full"
	ReasonUnknown         = "unknown"
)

// Reason classifies err into one of the drop reasons.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case sterrors.Is(err, ErrUnsupportedType):
		return ReasonUnsupportedType
	case sterrors.Is(err, ErrDecode):
		return ReasonDecode
	case sterrors.Is(err, ErrTopicMismatch):
		return ReasonTopicMismatch
	case sterrors.Is(err, ErrPublish):
		return ReasonPublish
	case sterrors.Is(err, ErrQueueFull):
		return ReasonQueueFull
	default:
		return ReasonUnknown
	}
}

// IsFatal reports whether err should stop the translation worker.
func IsFatal(err error) bool {
	return sterrors.Is(err, ErrQueueCorrupted)
}
