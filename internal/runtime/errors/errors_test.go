package errors

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrPublisherRequired", ErrPublisherRequired, "meshflow: publisher is required"},
		{"ErrTopicRequired", ErrTopicRequired, "meshflow: topic is required"},
		{"ErrConfigRequired", ErrConfigRequired, "meshflow: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "meshflow: logger is required"},
		{"ErrTransportRequired", ErrTransportRequired, "meshflow: transport is required"},
		{"ErrQueueClosed", ErrQueueClosed, "meshflow: translation queue is closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	inner := errors.New("boom")
	tests := []struct {
		name     string
		err      error
		sentinel error
		reason   string
	}{
		{"decode", &DecodeError{Target: "ServiceEnvelope", Err: inner}, ErrDecode, ReasonDecode},
		{"unsupported", &UnsupportedTypeError{PortNum: 5}, ErrUnsupportedType, ReasonUnsupportedType},
		{"missing decoded", &UnsupportedTypeError{MissingDecoded: true}, ErrUnsupportedType, ReasonUnsupportedType},
		{"topic", &TopicMismatchError{Topic: "a/b", Marker: "/e/"}, ErrTopicMismatch, ReasonTopicMismatch},
		{"publish", &PublishError{Topic: "a/json/b", Err: inner}, ErrPublish, ReasonPublish},
		{"queue full", fmt.Errorf("push: %w", ErrQueueFull), ErrQueueFull, ReasonQueueFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("worker: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Fatalf("expected %v to match %v", wrapped, tt.sentinel)
			}
			if got := Reason(wrapped); got != tt.reason {
				t.Errorf("Reason() = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestDecodeAndPublishErrorsUnwrap(t *testing.T) {
	inner := errors.New("truncated")
	if !errors.Is(&DecodeError{Err: inner}, inner) {
		t.Error("DecodeError should unwrap to its cause")
	}
	if !errors.Is(&PublishError{Err: inner}, inner) {
		t.Error("PublishError should unwrap to its cause")
	}
}

func TestUnsupportedTypeErrorMessage(t *testing.T) {
	err := &UnsupportedTypeError{PortNum: 32, PortName: "REPLY_APP"}
	want := "meshflow: unsupported payload type: port 32 (REPLY_APP)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	missing := &UnsupportedTypeError{MissingDecoded: true}
	if got := missing.Error(); got != "meshflow: unsupported payload type: missing packet.decoded field, packet is possibly encrypted" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestShutdownError(t *testing.T) {
	err := &ShutdownError{Signal: syscall.SIGTERM}
	if !errors.Is(err, ErrShutdownRequested) {
		t.Fatal("ShutdownError should match ErrShutdownRequested")
	}
	if (&ShutdownError{}).Error() != ErrShutdownRequested.Error() {
		t.Error("ShutdownError without a signal should use the sentinel text")
	}
}

func TestReasonDefaults(t *testing.T) {
	if Reason(nil) != "" {
		t.Error("nil error has no reason")
	}
	if Reason(errors.New("other")) != ReasonUnknown {
		t.Error("unclassified errors should be unknown")
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(fmt.Errorf("pop: %w", ErrQueueCorrupted)) {
		t.Error("corrupted queue is fatal")
	}
	if IsFatal(&DecodeError{Err: errors.New("x")}) {
		t.Error("decode errors are not fatal")
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "meshflow: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		err := NewConfigValidationError(nil)
		if err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("wraps error correctly", func(t *testing.T) {
		inner := errors.New("bad config")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if cfgErr.Err != inner {
			t.Errorf("wrapped error = %v, want %v", cfgErr.Err, inner)
		}
		if !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}
